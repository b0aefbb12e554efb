package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
	"github.com/romanzzaa/forex-alert-bot/internal/notify"
)

// Telegram обрезает сообщения на 4096 символах; держим запас на разметку.
const maxDigestChunk = 4000

const emptyDigestMessage = "🗓 *Daily Economic Calendar*\n\n" +
	"No significant economic events (Medium or High impact) scheduled for today or tomorrow."

// CalendarDigest - ежедневная джоба: скрейп календаря и рассылка дайджеста
// всем пользователям. Длинный дайджест режется на чанки: неполные чанки
// уходят по мере наполнения, контент никогда не обрезается.
type CalendarDigest struct {
	calendar domain.CalendarSource
	users    domain.UserRepository
	fanout   *notify.Fanout
	admins   domain.AdminReporter
	loc      *time.Location
	logger   *slog.Logger

	now func() time.Time
}

func NewCalendarDigest(
	calendar domain.CalendarSource,
	users domain.UserRepository,
	fanout *notify.Fanout,
	admins domain.AdminReporter,
	loc *time.Location,
	logger *slog.Logger,
) *CalendarDigest {
	return &CalendarDigest{
		calendar: calendar,
		users:    users,
		fanout:   fanout,
		admins:   admins,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "calendar_digest")),
	}
}

func (d *CalendarDigest) Run(ctx context.Context) error {
	d.logger.Info("Running daily economic calendar job")

	events, err := d.calendar.Fetch(ctx)
	if err != nil {
		d.admins.NotifyAdmins(fmt.Sprintf("🚨 Daily calendar scrape failed!\n*Error:* `%v`", err))
		return fmt.Errorf("calendar scrape failed: %w", err)
	}

	chunks := renderDigest(events, d.now().In(d.loc), maxDigestChunk)

	recipients, err := d.users.GetAllUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		d.logger.Warn("No users to send daily calendar to")
		return nil
	}

	// reached - пользователи, получившие первый чанк; по нему считаем охват.
	var reached, failed int
	for i, chunk := range chunks {
		report, err := d.fanout.Deliver(ctx, recipients, chunk)
		if err != nil {
			return err
		}
		if i == 0 {
			reached = report.Delivered
		}
		failed += report.Failed
	}

	d.logger.Info("Daily calendar sent",
		slog.Int("events", len(events)),
		slog.Int("chunks", len(chunks)),
		slog.Int("reached", reached),
		slog.Int("failed_sends", failed))

	if reached > 0 {
		d.admins.NotifyAdmins(fmt.Sprintf(
			"✅ Daily economic calendar sent to %d/%d users.", reached, len(recipients)))
	}
	return nil
}

// renderDigest собирает дайджест и режет его на сообщения не длиннее limit.
// Каждое событие - неделимый блок: чанк сбрасывается до того, как блок
// перестал бы влезать.
func renderDigest(events []domain.EconomicEvent, now time.Time, limit int) []string {
	if len(events) == 0 {
		return []string{emptyDigestMessage}
	}

	header := "🗓 *Daily Economic Calendar (Baghdad Time)*\n\nKey events for today and tomorrow:\n"

	var chunks []string
	var sb strings.Builder
	sb.WriteString(header)

	flush := func() {
		if sb.Len() > 0 {
			chunks = append(chunks, sb.String())
			sb.Reset()
		}
	}

	today := now.Format("2006-01-02")
	currentDay := ""

	for _, event := range events {
		var block strings.Builder

		eventDay := event.Time.Format("2006-01-02")
		if eventDay != currentDay {
			currentDay = eventDay
			dayLabel := "Tomorrow"
			if eventDay == today {
				dayLabel = "Today"
			}
			block.WriteString(fmt.Sprintf("\n--- *%s - %s* ---\n",
				dayLabel, event.Time.Format("Monday, 02 January")))
		}

		impactEmoji := "🟠"
		if event.Impact == domain.ImpactHigh {
			impactEmoji = "🔴"
		}

		block.WriteString(fmt.Sprintf(
			"\n%s *%s*\n  ⏰ %s | Currency: %s\n  📊 Prev: `%s` | Forecast: `%s` | Actual: `%s`\n",
			impactEmoji, event.Title, event.Time.Format("15:04"), event.Currency,
			event.Previous, event.Forecast, event.Actual))

		if sb.Len()+block.Len() > limit {
			flush()
		}
		sb.WriteString(block.String())
	}
	flush()

	return chunks
}
