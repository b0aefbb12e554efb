package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
	"github.com/romanzzaa/forex-alert-bot/internal/scheduler"
	"github.com/romanzzaa/forex-alert-bot/internal/usecase"
)

// Текстовые константы для кнопок (чтобы не опечататься)
const (
	BtnNewAlert = "🔔 New Price Alert"
	BtnMyAlerts = "📋 My Alerts"
	BtnAnalysis = "📊 Request Analysis"
)

type Handler struct {
	bot       *tgbotapi.BotAPI
	userRepo  domain.UserRepository
	alertRepo domain.AlertRepository
	jobRepo   domain.JobRepository
	core      *scheduler.Core
	analysis  *usecase.AnalysisRunner

	adminIDs map[int64]bool
	logger   *slog.Logger
	states   map[int64]*UserState
	mu       sync.RWMutex
}

type UserState struct {
	Step      string // awaiting_alert_asset, awaiting_alert_price
	TempAsset string
	TempPrice string
}

func NewHandler(
	bot *tgbotapi.BotAPI,
	userRepo domain.UserRepository,
	alertRepo domain.AlertRepository,
	jobRepo domain.JobRepository,
	core *scheduler.Core,
	analysis *usecase.AnalysisRunner,
	adminIDs []int64,
	logger *slog.Logger,
) *Handler {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Handler{
		bot:       bot,
		userRepo:  userRepo,
		alertRepo: alertRepo,
		jobRepo:   jobRepo,
		core:      core,
		analysis:  analysis,
		adminIDs:  admins,
		logger:    logger.With(slog.String("component", "bot_handler")),
		states:    make(map[int64]*UserState),
	}
}

func (h *Handler) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := h.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				go h.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				go h.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			h.cmdStart(ctx, msg)
		case "addjob":
			if h.adminIDs[userID] {
				h.cmdAddJob(ctx, msg)
			}
		case "edittask":
			if h.adminIDs[userID] {
				h.cmdEditTask(ctx, msg)
			}
		case "jobs":
			if h.adminIDs[userID] {
				h.cmdListJobs(ctx, msg)
			}
		case "deljob":
			if h.adminIDs[userID] {
				h.cmdDelJob(ctx, msg)
			}
		case "vip":
			if h.adminIDs[userID] {
				h.cmdVIP(ctx, msg)
			}
		case "stats":
			if h.adminIDs[userID] {
				h.cmdStats(ctx, msg)
			}
		}
		return
	}

	switch msg.Text {
	case BtnNewAlert:
		h.askForAlertAsset(msg.Chat.ID, userID)
		return
	case BtnMyAlerts:
		h.cmdMyAlerts(ctx, msg)
		return
	case BtnAnalysis:
		h.askForAnalysisAsset(msg.Chat.ID, userID)
		return
	}

	// Шаг снимается под локом: апдейты одного пользователя могут
	// обрабатываться конкурентно.
	state, step := h.stateStep(userID)

	if state != nil {
		h.handleStateMachine(ctx, msg, state, step)
	} else {
		h.send(msg.Chat.ID, "Use the menu buttons to navigate.")
	}
}

// stateStep returns the user's state and a snapshot of its current step.
func (h *Handler) stateStep(userID int64) (*UserState, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state := h.states[userID]
	if state == nil {
		return nil, ""
	}
	return state, state.Step
}

// --- Commands ---

func (h *Handler) cmdStart(ctx context.Context, msg *tgbotapi.Message) {
	user := &domain.User{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
	}
	if err := h.userRepo.Upsert(ctx, user); err != nil {
		h.logger.Error("Registration failed", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "⚠️ Registration error, try again later.")
		return
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\nI watch forex prices for you: price alerts, VIP analysis and a daily economic calendar.",
		msg.From.FirstName)

	h.showMainMenu(msg.Chat.ID)
	h.send(msg.Chat.ID, text)
}

// cmdAddJob: /addjob XAUUSD 08:30 [Asia/Baghdad]
// Запись в базу первична; живой триггер - ее проекция.
func (h *Handler) cmdAddJob(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.Text)
	if len(parts) < 3 {
		h.send(msg.Chat.ID, "Usage: /addjob <ASSET> <HH:MM> [timezone]")
		return
	}

	clock := strings.SplitN(parts[2], ":", 2)
	if len(clock) != 2 {
		h.send(msg.Chat.ID, "Bad time, expected HH:MM")
		return
	}
	hour, err1 := strconv.Atoi(clock[0])
	minute, err2 := strconv.Atoi(clock[1])
	if err1 != nil || err2 != nil {
		h.send(msg.Chat.ID, "Bad time, expected HH:MM")
		return
	}

	timezone := ""
	if len(parts) > 3 {
		timezone = parts[3]
	}

	job, err := domain.NewScheduledJob(parts[1], hour, minute, timezone)
	if err != nil {
		h.send(msg.Chat.ID, "❌ "+err.Error())
		return
	}

	if err := h.jobRepo.CreateJob(ctx, job); err != nil {
		h.logger.Error("Failed to persist job", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Failed to save the job.")
		return
	}

	if err := h.core.Schedule(job.JobID, job.CronSpec(), scheduler.JobKindAnalysis, scheduler.Payload{Asset: job.Asset}); err != nil {
		h.logger.Error("Failed to schedule job", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Saved, but scheduling failed. It will be picked up on restart.")
		return
	}

	h.send(msg.Chat.ID, fmt.Sprintf("✅ Task scheduled for *%s* at %02d:%02d (%s)!\nJob id: `%s`",
		job.Asset, job.Hour, job.Minute, job.Timezone, job.JobID))
}

// cmdEditTask: /edittask <job_id> <HH:MM>
// Меняет время существующей задачи, job_id остается прежним.
func (h *Handler) cmdEditTask(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.Text)
	if len(parts) != 3 {
		h.send(msg.Chat.ID, "Usage: /edittask <job_id> <HH:MM>")
		return
	}
	jobID := parts[1]

	clock := strings.SplitN(parts[2], ":", 2)
	if len(clock) != 2 {
		h.send(msg.Chat.ID, "Bad time, expected HH:MM")
		return
	}
	hour, err1 := strconv.Atoi(clock[0])
	minute, err2 := strconv.Atoi(clock[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		h.send(msg.Chat.ID, "Bad time, expected HH:MM")
		return
	}

	job, err := h.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to load job", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ DB error.")
		return
	}
	if job == nil {
		h.send(msg.Chat.ID, fmt.Sprintf("Task `%s` not found.", jobID))
		return
	}

	if err := h.jobRepo.UpdateJobTime(ctx, jobID, hour, minute); err != nil {
		h.logger.Error("Failed to update job time", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Failed to update the job.")
		return
	}

	job.Hour, job.Minute = hour, minute
	if err := h.core.Schedule(job.JobID, job.CronSpec(), scheduler.JobKindAnalysis, scheduler.Payload{Asset: job.Asset}); err != nil {
		h.logger.Error("Failed to reschedule job", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Saved, but rescheduling failed. It will be picked up on restart.")
		return
	}

	h.send(msg.Chat.ID, fmt.Sprintf("✅ Task `%s` moved to %02d:%02d (%s).",
		job.JobID, job.Hour, job.Minute, job.Timezone))
}

func (h *Handler) cmdListJobs(ctx context.Context, msg *tgbotapi.Message) {
	jobs, err := h.jobRepo.GetAllJobs(ctx)
	if err != nil {
		h.send(msg.Chat.ID, "❌ Failed to load jobs.")
		return
	}
	if len(jobs) == 0 {
		h.send(msg.Chat.ID, "📭 No scheduled tasks found.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏰ *Scheduled tasks (%d):*\n\n", len(jobs)))
	for _, j := range jobs {
		sb.WriteString(fmt.Sprintf("• `%s` — %s\n", j.JobID, j.String()))
	}
	h.send(msg.Chat.ID, sb.String())
}

func (h *Handler) cmdDelJob(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.Text)
	if len(parts) != 2 {
		h.send(msg.Chat.ID, "Usage: /deljob <job_id>")
		return
	}
	jobID := parts[1]

	h.core.Unschedule(jobID)
	if err := h.jobRepo.DeleteJob(ctx, jobID); err != nil {
		h.logger.Error("Failed to delete job", slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Failed to delete the job record.")
		return
	}

	h.send(msg.Chat.ID, fmt.Sprintf("✅ Task `%s` removed.", jobID))
}

func (h *Handler) cmdVIP(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.Text)
	if len(parts) != 3 || (parts[2] != "on" && parts[2] != "off") {
		h.send(msg.Chat.ID, "Usage: /vip <user_id> on|off")
		return
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.send(msg.Chat.ID, "Bad user id.")
		return
	}

	ok, err := h.userRepo.SetVIP(ctx, userID, parts[2] == "on")
	if err != nil {
		h.send(msg.Chat.ID, "❌ DB error.")
		return
	}
	if !ok {
		h.send(msg.Chat.ID, "User not found.")
		return
	}
	h.send(msg.Chat.ID, fmt.Sprintf("✅ VIP for %d set to %s.", userID, parts[2]))
}

func (h *Handler) cmdStats(ctx context.Context, msg *tgbotapi.Message) {
	stats, err := h.userRepo.Stats(ctx)
	if err != nil {
		h.send(msg.Chat.ID, "❌ Failed to load stats.")
		return
	}

	h.send(msg.Chat.ID, fmt.Sprintf(
		"📊 *Bot stats*\n\n"+
			"Users: %d (free %d / standard %d / pro %d)\n"+
			"VIPs: %d\nScheduled jobs: %d\nPrice alerts: %d\n"+
			"Live schedule entries: %d",
		stats.TotalUsers, stats.FreeUsers, stats.StandardUsers, stats.ProUsers,
		stats.VIPUsers, stats.ActiveJobs, stats.TotalAlerts, len(h.core.JobIDs())))
}

func (h *Handler) cmdMyAlerts(ctx context.Context, msg *tgbotapi.Message) {
	alerts, err := h.alertRepo.GetUserAlerts(ctx, msg.From.ID, true)
	if err != nil {
		h.send(msg.Chat.ID, "❌ Failed to load your alerts.")
		return
	}
	if len(alerts) == 0 {
		h.send(msg.Chat.ID, "📭 You have no active price alerts.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔔 *Your active alerts (%d):*\n\n", len(alerts)))

	for _, a := range alerts {
		freq := "recurring"
		if a.IsOneTime {
			freq = "one-time"
		}
		sb.WriteString(fmt.Sprintf("• *%s* %s `%s` (%s)\n", a.Asset, a.Direction, a.TargetPrice.String(), freq))
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🗑 %s %s %s", a.Asset, a.Direction, a.TargetPrice.String()),
				fmt.Sprintf("delalert:%d", a.ID)),
		})
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, sb.String())
	reply.ParseMode = "Markdown"
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.bot.Send(reply)
}

// --- Alert creation state machine ---

func (h *Handler) askForAlertAsset(chatID, userID int64) {
	h.mu.Lock()
	h.states[userID] = &UserState{Step: "awaiting_alert_asset"}
	h.mu.Unlock()
	h.send(chatID, "✍️ Which asset should I watch? (e.g. `XAUUSD`)")
}

func (h *Handler) askForAnalysisAsset(chatID, userID int64) {
	h.mu.Lock()
	h.states[userID] = &UserState{Step: "awaiting_analysis_asset"}
	h.mu.Unlock()
	h.send(chatID, "✍️ Which asset should I analyze? (e.g. `XAUUSD`)\nOne credit per request, free for VIPs.")
}

func (h *Handler) processAnalysisRequest(ctx context.Context, msg *tgbotapi.Message) {
	asset := strings.ToUpper(strings.TrimSpace(msg.Text))
	if asset == "" || strings.ContainsAny(asset, " \t") {
		h.send(msg.Chat.ID, "❌ Bad asset symbol, try again.")
		return
	}

	h.mu.Lock()
	delete(h.states, msg.From.ID)
	h.mu.Unlock()

	h.send(msg.Chat.ID, fmt.Sprintf("⏳ Analyzing *%s*...", asset))

	err := h.analysis.RequestAnalysis(ctx, msg.From.ID, asset)
	switch {
	case err == nil:
		// Результат уже доставлен фан-аутом.
	case errors.Is(err, usecase.ErrNoCredits):
		h.send(msg.Chat.ID, "❌ You are out of analysis credits.")
	case errors.Is(err, usecase.ErrAnalysisUnavailable):
		h.send(msg.Chat.ID, "❌ Analysis is temporarily unavailable.")
	default:
		h.logger.Error("On-demand analysis failed",
			slog.Int64("user_id", msg.From.ID),
			slog.String("asset", asset),
			slog.String("err", err.Error()))
		h.send(msg.Chat.ID, "❌ Analysis failed, try again later.")
	}
}

func (h *Handler) handleStateMachine(ctx context.Context, msg *tgbotapi.Message, state *UserState, step string) {
	switch step {
	case "awaiting_alert_asset":
		h.processAlertAsset(msg, state)
	case "awaiting_alert_price":
		h.processAlertPrice(msg, state)
	case "awaiting_analysis_asset":
		h.processAnalysisRequest(ctx, msg)
	}
}

func (h *Handler) processAlertAsset(msg *tgbotapi.Message, state *UserState) {
	asset := strings.ToUpper(strings.TrimSpace(msg.Text))
	if asset == "" || strings.ContainsAny(asset, " \t") {
		h.send(msg.Chat.ID, "❌ Bad asset symbol, try again.")
		return
	}

	h.mu.Lock()
	state.TempAsset = asset
	state.Step = "awaiting_alert_price"
	h.mu.Unlock()

	h.send(msg.Chat.ID, fmt.Sprintf("Asset: *%s*\nNow enter the target price:", asset))
}

func (h *Handler) processAlertPrice(msg *tgbotapi.Message, state *UserState) {
	price, err := decimal.NewFromString(strings.TrimSpace(msg.Text))
	if err != nil || !price.IsPositive() {
		h.send(msg.Chat.ID, "❌ Bad price. Enter a positive number.")
		return
	}

	h.mu.Lock()
	state.TempPrice = price.String()
	state.Step = "awaiting_alert_direction"
	h.mu.Unlock()

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📈 Above", "dir:above"),
			tgbotapi.NewInlineKeyboardButtonData("📉 Below", "dir:below"),
		),
	)
	reply := tgbotapi.NewMessage(msg.Chat.ID, "Trigger when the price goes:")
	reply.ReplyMarkup = keyboard
	h.bot.Send(reply)
}

// --- Callbacks ---

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))

	data := cb.Data
	switch {
	case strings.HasPrefix(data, "dir:"):
		h.processAlertDirection(cb, domain.AlertDirection(strings.TrimPrefix(data, "dir:")))
	case strings.HasPrefix(data, "freq:"):
		h.processAlertFrequency(ctx, cb, strings.TrimPrefix(data, "freq:") == "once")
	case strings.HasPrefix(data, "delalert:"):
		h.processAlertDelete(ctx, cb, strings.TrimPrefix(data, "delalert:"))
	}
}

func (h *Handler) processAlertDirection(cb *tgbotapi.CallbackQuery, direction domain.AlertDirection) {
	h.mu.Lock()
	state := h.states[cb.From.ID]
	if state == nil || state.Step != "awaiting_alert_direction" {
		h.mu.Unlock()
		return
	}
	state.Step = "awaiting_alert_frequency:" + string(direction)
	h.mu.Unlock()

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("1️⃣ One-time", "freq:once"),
			tgbotapi.NewInlineKeyboardButtonData("🔁 Recurring", "freq:recurring"),
		),
	)
	reply := tgbotapi.NewMessage(cb.Message.Chat.ID, "Should the alert fire once or every time the level is hit?")
	reply.ReplyMarkup = keyboard
	h.bot.Send(reply)
}

func (h *Handler) processAlertFrequency(ctx context.Context, cb *tgbotapi.CallbackQuery, oneTime bool) {
	h.mu.Lock()
	state := h.states[cb.From.ID]
	if state == nil || !strings.HasPrefix(state.Step, "awaiting_alert_frequency:") {
		h.mu.Unlock()
		return
	}
	direction := domain.AlertDirection(strings.TrimPrefix(state.Step, "awaiting_alert_frequency:"))
	asset := state.TempAsset
	priceStr := state.TempPrice
	delete(h.states, cb.From.ID)
	h.mu.Unlock()

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		h.send(cb.Message.Chat.ID, "❌ Something went wrong, start over.")
		return
	}

	alert, err := domain.NewPriceAlert(cb.From.ID, asset, price, direction, oneTime)
	if err != nil {
		h.send(cb.Message.Chat.ID, "❌ "+err.Error())
		return
	}

	if err := h.alertRepo.CreateAlert(ctx, alert); err != nil {
		h.logger.Error("Failed to create alert", slog.String("err", err.Error()))
		h.send(cb.Message.Chat.ID, "❌ Failed to save the alert.")
		return
	}

	freq := "every time"
	if oneTime {
		freq = "once"
	}
	h.send(cb.Message.Chat.ID, fmt.Sprintf(
		"✅ Alert registered!\nI will notify you %s when *%s* goes %s `%s`.",
		freq, alert.Asset, alert.Direction, alert.TargetPrice.String()))
}

func (h *Handler) processAlertDelete(ctx context.Context, cb *tgbotapi.CallbackQuery, rawID string) {
	alertID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return
	}

	// Удалять можно только свои алерты.
	alert, err := h.alertRepo.GetAlertByID(ctx, alertID)
	if err != nil || alert == nil || alert.UserID != cb.From.ID {
		h.send(cb.Message.Chat.ID, "❌ Alert not found.")
		return
	}

	if err := h.alertRepo.DeleteAlert(ctx, alertID); err != nil {
		h.send(cb.Message.Chat.ID, "❌ Failed to delete the alert.")
		return
	}
	h.send(cb.Message.Chat.ID, fmt.Sprintf("🗑 Alert for *%s* deleted.", alert.Asset))
}

// --- UI Helpers ---

func (h *Handler) showMainMenu(chatID int64) {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnNewAlert),
			tgbotapi.NewKeyboardButton(BtnMyAlerts),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(BtnAnalysis),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Menu:")
	msg.ReplyMarkup = keyboard
	h.bot.Send(msg)
}

func (h *Handler) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Warn("Send failed", slog.Int64("chat_id", chatID), slog.String("err", err.Error()))
	}
}
