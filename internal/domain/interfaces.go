package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// JobRepository - durable store of scheduled analysis jobs.
// The live scheduler is a disposable projection of this table.
type JobRepository interface {
	// CreateJob inserts a job; on a job_id collision the row is updated
	// in place (last write wins).
	CreateJob(ctx context.Context, job *ScheduledJob) error

	GetAllJobs(ctx context.Context) ([]ScheduledJob, error)

	// GetJob returns the job with the given job_id, or nil when absent.
	GetJob(ctx context.Context, jobID string) (*ScheduledJob, error)

	UpdateJobTime(ctx context.Context, jobID string, hour, minute int) error

	DeleteJob(ctx context.Context, jobID string) error
}

// AlertRepository - durable store of price alerts.
type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *PriceAlert) error

	GetActiveAlerts(ctx context.Context) ([]PriceAlert, error)

	// GetDistinctActiveAssets returns the assets referenced by active
	// alerts, one entry per asset.
	GetDistinctActiveAssets(ctx context.Context) ([]string, error)

	GetUserAlerts(ctx context.Context, userID int64, activeOnly bool) ([]PriceAlert, error)

	GetAlertByID(ctx context.Context, id int64) (*PriceAlert, error)

	// DeactivateAlerts flips is_active off for all ids in one statement
	// and stamps triggered_at.
	DeactivateAlerts(ctx context.Context, ids []int64) error

	DeleteAlert(ctx context.Context, id int64) error
}

// UserRepository - user bookkeeping (registration, tiers, VIP flags).
type UserRepository interface {
	Upsert(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetVIPUsers(ctx context.Context) ([]User, error)
	GetAllUserIDs(ctx context.Context) ([]int64, error)
	SetVIP(ctx context.Context, id int64, vip bool) (bool, error)
	ChangeCredits(ctx context.Context, id int64, delta int) error
	Stats(ctx context.Context) (Stats, error)
}

// PriceGateway - external price provider (REST).
type PriceGateway interface {
	// LatestPrice returns the most recent price for an asset.
	LatestPrice(ctx context.Context, asset string) (decimal.Decimal, error)

	// Candles fetches OHLCV series keyed by timeframe, e.g. "1m:35,1h:30".
	Candles(ctx context.Context, asset, frames string) (map[string][]Candle, error)
}

// PriceStream - live quote cache in front of the REST gateway.
// Implementations keep only the latest quote per asset.
type PriceStream interface {
	// EnsureSubscribed adds any missing assets to the live subscription.
	EnsureSubscribed(assets []string) error

	// Quote returns the latest cached quote, if any.
	Quote(asset string) (PriceQuote, bool)
}

// CalendarSource - economic calendar scraper. Stateless: each call
// re-fetches, the result is finite and ordered ascending by time.
type CalendarSource interface {
	Fetch(ctx context.Context) ([]EconomicEvent, error)
}

// AnalysisProvider - external AI analysis of an asset.
type AnalysisProvider interface {
	Enabled() bool
	Analyze(ctx context.Context, asset string, candles map[string][]Candle) (string, error)
}

// MessageSender - messaging transport (Telegram).
type MessageSender interface {
	Send(recipientID int64, text string) error
}

// AdminReporter - operator failure channel.
type AdminReporter interface {
	NotifyAdmins(text string)
}

// PriceQuote - latest known price for an asset, with its origin.
type PriceQuote struct {
	Asset  string
	Price  decimal.Decimal
	Time   time.Time
	Source string
}

// Fresh reports whether the quote is younger than maxAge at now.
func (q PriceQuote) Fresh(now time.Time, maxAge time.Duration) bool {
	return !q.Time.IsZero() && now.Sub(q.Time) <= maxAge
}
