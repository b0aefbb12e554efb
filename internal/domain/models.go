package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// --- Enums & Constants ---

type AlertDirection string

const (
	DirectionAbove AlertDirection = "above"
	DirectionBelow AlertDirection = "below"
)

type SubscriptionTier string

const (
	TierFree     SubscriptionTier = "free"
	TierStandard SubscriptionTier = "standard"
	TierPro      SubscriptionTier = "pro"
)

// DefaultTimezone - reference timezone for schedules and the calendar.
const DefaultTimezone = "Asia/Baghdad"

// Impact levels used by the economic calendar.
const (
	ImpactLow    = "Low"
	ImpactMedium = "Medium"
	ImpactHigh   = "High"
)

// --- Entities ---

// User - bot user. ID is the Telegram ID.
type User struct {
	ID                 int64
	Username           string
	FirstName          string
	Tier               SubscriptionTier
	SubscriptionExpiry *time.Time
	IsVIP              bool
	Credits            int
	JoinedAt           time.Time
}

// ScheduledJob - persisted record of a recurring analysis job.
// JobID is deterministic from (asset, hour, minute) so identical jobs
// collapse into one row instead of silently duplicating.
type ScheduledJob struct {
	ID       int64
	JobID    string
	Asset    string
	Hour     int
	Minute   int
	Timezone string
}

func NewScheduledJob(asset string, hour, minute int, timezone string) (*ScheduledJob, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return nil, fmt.Errorf("empty asset")
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return nil, fmt.Errorf("minute out of range: %d", minute)
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	return &ScheduledJob{
		JobID:    JobID(asset, hour, minute),
		Asset:    asset,
		Hour:     hour,
		Minute:   minute,
		Timezone: timezone,
	}, nil
}

// JobID builds the canonical identifier, e.g. "task_XAUUSD_8_30".
func JobID(asset string, hour, minute int) string {
	return fmt.Sprintf("task_%s_%d_%d", strings.ToUpper(asset), hour, minute)
}

// CronSpec renders a five-field cron expression with an entry-level
// timezone. A job at 02:00 Asia/Baghdad fires at the Baghdad wall-clock
// instant regardless of the host timezone.
func (j ScheduledJob) CronSpec() string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", j.Timezone, j.Minute, j.Hour)
}

func (j ScheduledJob) String() string {
	return fmt.Sprintf("%s @ %02d:%02d %s", j.Asset, j.Hour, j.Minute, j.Timezone)
}

// PriceAlert - user-defined price threshold.
// Mutated only by the sweeper (one-time deactivation) or deleted by its owner.
type PriceAlert struct {
	ID          int64
	UserID      int64
	Asset       string
	TargetPrice decimal.Decimal
	Direction   AlertDirection
	IsActive    bool
	IsOneTime   bool
	CreatedAt   time.Time
	TriggeredAt *time.Time
}

func NewPriceAlert(userID int64, asset string, target decimal.Decimal, direction AlertDirection, oneTime bool) (*PriceAlert, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return nil, fmt.Errorf("empty asset")
	}
	if !target.IsPositive() {
		return nil, fmt.Errorf("target price must be positive, got %s", target)
	}
	if direction != DirectionAbove && direction != DirectionBelow {
		return nil, fmt.Errorf("unknown alert direction: %q", direction)
	}

	return &PriceAlert{
		UserID:      userID,
		Asset:       asset,
		TargetPrice: target,
		Direction:   direction,
		IsActive:    true,
		IsOneTime:   oneTime,
	}, nil
}

// ShouldTrigger - boundary is inclusive: hitting the target exactly fires.
func (a PriceAlert) ShouldTrigger(price decimal.Decimal) bool {
	if !a.IsActive {
		return false
	}
	switch a.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case DirectionBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	}
	return false
}

// --- Value Objects ---

// EconomicEvent - one calendar row. Produced fresh per scrape, never persisted.
type EconomicEvent struct {
	Time     time.Time
	Currency string
	Title    string
	Impact   string
	Previous string
	Forecast string
	Actual   string
}

// Candle - OHLCV bar from the price API.
type Candle struct {
	Time   int64           `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Stats - aggregate counters for the admin panel.
type Stats struct {
	TotalUsers    int
	FreeUsers     int
	StandardUsers int
	ProUsers      int
	VIPUsers      int
	ActiveJobs    int
	TotalAlerts   int
}
