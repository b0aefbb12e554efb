package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/joho/godotenv/autoload"

	"github.com/romanzzaa/forex-alert-bot/internal/bot"
	"github.com/romanzzaa/forex-alert-bot/internal/config"
	"github.com/romanzzaa/forex-alert-bot/internal/domain"
	"github.com/romanzzaa/forex-alert-bot/internal/infrastructure/calendar"
	"github.com/romanzzaa/forex-alert-bot/internal/infrastructure/database"
	"github.com/romanzzaa/forex-alert-bot/internal/infrastructure/gemini"
	"github.com/romanzzaa/forex-alert-bot/internal/infrastructure/priceapi"
	"github.com/romanzzaa/forex-alert-bot/internal/notify"
	"github.com/romanzzaa/forex-alert-bot/internal/scheduler"
	"github.com/romanzzaa/forex-alert-bot/internal/usecase"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Bot terminated", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("Configuration loaded", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Persistence ---
	db, err := database.NewConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	jobRepo := database.NewJobRepository(db, logger)
	alertRepo := database.NewAlertRepository(db, logger)
	userRepo := database.NewUserRepository(db)

	// --- External gateways ---
	priceClient := priceapi.NewClient(cfg.PriceAPI.BaseURL, cfg.PriceAPI.Timeout)

	// Стрим опционален: без PRICE_STREAM_URL свипер живет на чистом REST.
	var quoteStream domain.PriceStream
	if cfg.PriceAPI.StreamURL != "" {
		stream := priceapi.NewStream(cfg.PriceAPI.StreamURL, logger)
		go stream.Run(ctx)
		quoteStream = stream
		logger.Info("Price quote stream enabled", slog.String("url", cfg.PriceAPI.StreamURL))
	}

	scraper, err := calendar.NewScraper(calendar.ScraperConfig{
		URL:        cfg.Calendar.URL,
		UserAgent:  cfg.Calendar.UserAgent,
		Timezone:   cfg.Calendar.Timezone,
		Currencies: cfg.Calendar.Currencies,
		Impacts:    cfg.Calendar.Impacts,
		Timeout:    cfg.Calendar.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("calendar scraper: %w", err)
	}

	analysisProvider := gemini.NewClient(cfg.Analysis.Endpoint, cfg.Analysis.APIKey, cfg.Analysis.Timeout)
	if !analysisProvider.Enabled() {
		logger.Warn("Analysis provider not configured, scheduled analysis will be skipped")
	}

	// --- Telegram ---
	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	logger.Info("Authorized on telegram", slog.String("username", tg.Self.UserName))

	notifier := bot.NewNotifier(tg, cfg.Telegram.AdminIDs, logger)
	fanout := notify.NewFanout(notifier, logger)

	// --- Use cases ---
	sweeper := usecase.NewAlertSweeper(
		alertRepo, priceClient, quoteStream, notifier,
		cfg.PriceAPI.Timeout, cfg.Alerts.QuoteMaxAge, logger)

	analysisRunner := usecase.NewAnalysisRunner(
		analysisProvider, priceClient, userRepo, fanout, notifier, logger)

	calendarLoc, err := time.LoadLocation(cfg.Calendar.Timezone)
	if err != nil {
		return fmt.Errorf("calendar timezone: %w", err)
	}
	digest := usecase.NewCalendarDigest(scraper, userRepo, fanout, notifier, calendarLoc, logger)

	// --- Scheduler ---
	core := scheduler.New(logger)
	core.Register(scheduler.JobKindAnalysis, func(ctx context.Context, p scheduler.Payload) error {
		return analysisRunner.Run(ctx, p.Asset)
	})
	core.Register(scheduler.JobKindAlertSweep, func(ctx context.Context, _ scheduler.Payload) error {
		return sweeper.Sweep(ctx)
	})
	core.Register(scheduler.JobKindCalendarDigest, func(ctx context.Context, _ scheduler.Payload) error {
		return digest.Run(ctx)
	})

	// Восстановление расписания из базы - живое расписание это проекция.
	jobs, err := jobRepo.GetAllJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	if err := core.Reconcile(jobs); err != nil {
		return fmt.Errorf("reconcile jobs: %w", err)
	}

	if err := core.Schedule(
		scheduler.AlertSweepJobID,
		fmt.Sprintf("@every %s", cfg.Alerts.Interval),
		scheduler.JobKindAlertSweep,
		scheduler.Payload{},
	); err != nil {
		return fmt.Errorf("schedule alert sweep: %w", err)
	}

	digestSpec := fmt.Sprintf("CRON_TZ=%s %d %d * * *",
		cfg.Calendar.Timezone, cfg.Calendar.Minute, cfg.Calendar.Hour)
	if err := core.Schedule(
		scheduler.CalendarDigestJobID,
		digestSpec,
		scheduler.JobKindCalendarDigest,
		scheduler.Payload{},
	); err != nil {
		return fmt.Errorf("schedule calendar digest: %w", err)
	}

	core.Start(ctx)

	handler := bot.NewHandler(tg, userRepo, alertRepo, jobRepo, core, analysisRunner, cfg.Telegram.AdminIDs, logger)

	logger.Info("Bot is running",
		slog.Int("scheduled_jobs", len(jobs)),
		slog.Int("admins", len(cfg.Telegram.AdminIDs)))

	handler.Start(ctx) // blocks until ctx is cancelled

	logger.Info("Shutting down")
	core.Stop()
	return nil
}
