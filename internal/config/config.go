package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config - global bot configuration, assembled from environment variables.
type Config struct {
	Env string // "local", "prod"

	Database DatabaseConfig
	Telegram TelegramConfig
	PriceAPI PriceAPIConfig
	Calendar CalendarConfig
	Analysis AnalysisConfig
	Alerts   AlertsConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type TelegramConfig struct {
	BotToken string
	AdminIDs []int64
}

type PriceAPIConfig struct {
	BaseURL   string
	StreamURL string // optional; empty disables the quote stream
	Timeout   time.Duration
}

type CalendarConfig struct {
	URL        string
	UserAgent  string
	Timezone   string
	Currencies []string
	Impacts    []string
	// Daily digest send time, in Timezone.
	Hour    int
	Minute  int
	Timeout time.Duration
}

type AnalysisConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type AlertsConfig struct {
	Interval    time.Duration // sweep tick
	QuoteMaxAge time.Duration // stream quote freshness window
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Env: getEnv("ENV", "local"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   getEnv("DB_NAME", "forex_bot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("BOT_TOKEN"),
		},
		PriceAPI: PriceAPIConfig{
			BaseURL:   getEnv("PRICE_API_URL", "https://abalahb.cfd/forex"),
			StreamURL: os.Getenv("PRICE_STREAM_URL"),
			Timeout:   getEnvDuration("PRICE_API_TIMEOUT", 10*time.Second),
		},
		Calendar: CalendarConfig{
			URL:        getEnv("ECONOMIC_CALENDAR_URL", "https://www.myfxbook.com/forex-economic-calendar"),
			UserAgent:  getEnv("ECONOMIC_CALENDAR_UA", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Timezone:   getEnv("CALENDAR_TIMEZONE", "Asia/Baghdad"),
			Currencies: getEnvList("CALENDAR_CURRENCIES", []string{"USD", "EUR"}),
			Impacts:    getEnvList("CALENDAR_IMPACTS", []string{"Medium", "High"}),
			Hour:       getEnvInt("CALENDAR_HOUR", 2),
			Minute:     getEnvInt("CALENDAR_MINUTE", 0),
			Timeout:    getEnvDuration("CALENDAR_TIMEOUT", 20*time.Second),
		},
		Analysis: AnalysisConfig{
			Endpoint: os.Getenv("ANALYSIS_ENDPOINT"),
			APIKey:   os.Getenv("ANALYSIS_API_KEY"),
			Timeout:  getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		},
		Alerts: AlertsConfig{
			Interval:    getEnvDuration("ALERT_INTERVAL", time.Minute),
			QuoteMaxAge: getEnvDuration("ALERT_QUOTE_MAX_AGE", 45*time.Second),
		},
	}

	for _, raw := range strings.Split(os.Getenv("ADMIN_IDS"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad ADMIN_IDS entry %q: %w", raw, err)
		}
		cfg.Telegram.AdminIDs = append(cfg.Telegram.AdminIDs, id)
	}

	if cfg.Telegram.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
