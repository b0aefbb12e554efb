package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/romanzzaa/forex-alert-bot/internal/config"
	"github.com/romanzzaa/forex-alert-bot/internal/infrastructure/database"
)

// Сидер для локальной разработки: создает схему и кладет демо-данные.
// В prod не запускать.

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  BIGINT PRIMARY KEY,
    username            TEXT NOT NULL DEFAULT '',
    first_name          TEXT NOT NULL DEFAULT '',
    tier                TEXT NOT NULL DEFAULT 'free',
    subscription_expiry TIMESTAMPTZ,
    is_vip              BOOLEAN NOT NULL DEFAULT FALSE,
    credits             INT NOT NULL DEFAULT 0,
    joined_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
    id       BIGSERIAL PRIMARY KEY,
    job_id   TEXT NOT NULL UNIQUE,
    asset    TEXT NOT NULL,
    hour     INT NOT NULL CHECK (hour BETWEEN 0 AND 23),
    minute   INT NOT NULL CHECK (minute BETWEEN 0 AND 59),
    timezone TEXT NOT NULL DEFAULT 'Asia/Baghdad'
);

CREATE TABLE IF NOT EXISTS price_alerts (
    id           BIGSERIAL PRIMARY KEY,
    user_id      BIGINT NOT NULL REFERENCES users(id),
    asset        TEXT NOT NULL,
    target_price NUMERIC(20, 8) NOT NULL,
    direction    TEXT NOT NULL CHECK (direction IN ('above', 'below')),
    is_active    BOOLEAN NOT NULL DEFAULT TRUE,
    is_one_time  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    triggered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_price_alerts_active ON price_alerts (asset) WHERE is_active;
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Config error", slog.String("err", err.Error()))
		os.Exit(1)
	}

	if cfg.Env != "local" {
		logger.Error("Seeder is for local environment only", slog.String("env", cfg.Env))
		os.Exit(1)
	}

	db, err := database.NewConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Error("Database error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		logger.Error("Schema bootstrap failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("Schema ready")

	seeds := []struct {
		name  string
		query string
		args  []any
	}{
		{
			name: "demo user",
			query: `INSERT INTO users (id, username, first_name, tier, is_vip, credits)
			        VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
			args: []any{int64(111111111), "demo_trader", "Demo", "pro", true, 100},
		},
		{
			name: "gold analysis job",
			query: `INSERT INTO scheduled_jobs (job_id, asset, hour, minute, timezone)
			        VALUES ($1, $2, $3, $4, $5) ON CONFLICT (job_id) DO NOTHING`,
			args: []any{"task_XAUUSD_8_30", "XAUUSD", 8, 30, "Asia/Baghdad"},
		},
		{
			name: "gold price alert",
			query: `INSERT INTO price_alerts (user_id, asset, target_price, direction, is_one_time)
			        SELECT $1, $2, $3, $4, $5
			        WHERE NOT EXISTS (
			            SELECT 1 FROM price_alerts WHERE user_id = $1 AND asset = $2 AND target_price = $3
			        )`,
			args: []any{int64(111111111), "XAUUSD", "2300.00", "above", true},
		},
	}

	for _, s := range seeds {
		if _, err := db.ExecContext(ctx, s.query, s.args...); err != nil {
			logger.Error("Seed failed", slog.String("seed", s.name), slog.String("err", err.Error()))
			os.Exit(1)
		}
		logger.Info("Seeded", slog.String("seed", s.name))
	}

	logger.Info("Done")
}
