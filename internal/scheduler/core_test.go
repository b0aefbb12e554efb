package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopHandler(ctx context.Context, p Payload) error { return nil }

func TestScheduleRequiresHandler(t *testing.T) {
	c := New(discardLogger())

	err := c.Schedule("task_XAUUSD_8_30", "CRON_TZ=Asia/Baghdad 30 8 * * *", JobKindAnalysis, Payload{Asset: "XAUUSD"})
	assert.Error(t, err)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	c := New(discardLogger())
	c.Register(JobKindAnalysis, noopHandler)

	err := c.Schedule("task_XAUUSD_8_30", "not a cron spec", JobKindAnalysis, Payload{Asset: "XAUUSD"})
	assert.Error(t, err)
	assert.Empty(t, c.JobIDs())
}

func TestScheduleReplacesSameID(t *testing.T) {
	c := New(discardLogger())
	c.Register(JobKindAnalysis, noopHandler)

	job, err := domain.NewScheduledJob("XAUUSD", 8, 30, "")
	require.NoError(t, err)

	require.NoError(t, c.Schedule(job.JobID, job.CronSpec(), JobKindAnalysis, Payload{Asset: job.Asset}))
	// Reschedule the same id with a new time: exactly one entry survives.
	require.NoError(t, c.Schedule(job.JobID, "CRON_TZ=Asia/Baghdad 0 9 * * *", JobKindAnalysis, Payload{Asset: job.Asset}))

	assert.Equal(t, []string{"task_XAUUSD_8_30"}, c.JobIDs())
}

func TestUnscheduleAbsentIsNoop(t *testing.T) {
	c := New(discardLogger())
	c.Register(JobKindAnalysis, noopHandler)

	require.NoError(t, c.Schedule("task_EURUSD_10_0", "CRON_TZ=UTC 0 10 * * *", JobKindAnalysis, Payload{Asset: "EURUSD"}))

	c.Unschedule("task_GBPUSD_10_0") // never scheduled
	c.Unschedule("task_EURUSD_10_0")
	c.Unschedule("task_EURUSD_10_0") // second removal is fine too

	assert.Empty(t, c.JobIDs())
}

func TestReconcileMatchesDesiredSet(t *testing.T) {
	c := New(discardLogger())
	c.Register(JobKindAnalysis, noopHandler)
	c.Register(JobKindAlertSweep, noopHandler)

	// System entries must survive reconciliation untouched.
	require.NoError(t, c.Schedule(AlertSweepJobID, "@every 1m", JobKindAlertSweep, Payload{}))

	stale, err := domain.NewScheduledJob("GBPUSD", 12, 0, "")
	require.NoError(t, err)
	require.NoError(t, c.Schedule(stale.JobID, stale.CronSpec(), JobKindAnalysis, Payload{Asset: stale.Asset}))

	gold, err := domain.NewScheduledJob("XAUUSD", 8, 30, "")
	require.NoError(t, err)
	euro, err := domain.NewScheduledJob("EURUSD", 14, 15, "Europe/London")
	require.NoError(t, err)

	desired := []domain.ScheduledJob{*gold, *euro}
	require.NoError(t, c.Reconcile(desired))

	assert.Equal(t,
		[]string{AlertSweepJobID, "task_EURUSD_14_15", "task_XAUUSD_8_30"},
		c.JobIDs())

	// Reconcile is idempotent.
	require.NoError(t, c.Reconcile(desired))
	assert.Equal(t,
		[]string{AlertSweepJobID, "task_EURUSD_14_15", "task_XAUUSD_8_30"},
		c.JobIDs())
}

func TestReconcileEmptyClearsAnalysisOnly(t *testing.T) {
	c := New(discardLogger())
	c.Register(JobKindAnalysis, noopHandler)
	c.Register(JobKindCalendarDigest, noopHandler)

	require.NoError(t, c.Schedule(CalendarDigestJobID, "CRON_TZ=Asia/Baghdad 0 2 * * *", JobKindCalendarDigest, Payload{}))

	job, err := domain.NewScheduledJob("XAUUSD", 8, 30, "")
	require.NoError(t, err)
	require.NoError(t, c.Schedule(job.JobID, job.CronSpec(), JobKindAnalysis, Payload{Asset: job.Asset}))

	require.NoError(t, c.Reconcile(nil))
	assert.Equal(t, []string{CalendarDigestJobID}, c.JobIDs())
}

func TestIntervalJobFires(t *testing.T) {
	c := New(discardLogger())

	var fired atomic.Int32
	c.Register(JobKindAlertSweep, func(ctx context.Context, p Payload) error {
		fired.Add(1)
		return nil
	})

	require.NoError(t, c.Schedule(AlertSweepJobID, "@every 100ms", JobKindAlertSweep, Payload{}))

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	assert.Eventually(t, func() bool {
		return fired.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	c := New(discardLogger())

	var healthyFired atomic.Int32
	c.Register(JobKindAnalysis, func(ctx context.Context, p Payload) error {
		panic("boom")
	})
	c.Register(JobKindAlertSweep, func(ctx context.Context, p Payload) error {
		healthyFired.Add(1)
		return nil
	})

	require.NoError(t, c.Schedule("task_XAUUSD_8_30", "@every 50ms", JobKindAnalysis, Payload{Asset: "XAUUSD"}))
	require.NoError(t, c.Schedule(AlertSweepJobID, "@every 50ms", JobKindAlertSweep, Payload{}))

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	// The healthy job keeps firing alongside the panicking one.
	assert.Eventually(t, func() bool {
		return healthyFired.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
}
