package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// JobKind routes a fired entry to its handler. Jobs are plain data
// (kind + payload); dependencies live in the handlers, registered once at
// startup, never captured in per-job closures.
type JobKind string

const (
	JobKindAnalysis       JobKind = "analysis"
	JobKindAlertSweep     JobKind = "alert_sweep"
	JobKindCalendarDigest JobKind = "calendar_digest"
)

// Well-known system entry ids.
const (
	AlertSweepJobID     = "price_alert_checker"
	CalendarDigestJobID = "daily_calendar_sender"
)

// Payload - данные задачи, всё остальное инжектится в хендлер.
type Payload struct {
	JobID string
	Asset string
}

type Handler func(ctx context.Context, p Payload) error

type liveEntry struct {
	id   cron.EntryID
	kind JobKind
	spec string
}

// Core - in-memory исполнитель cron/interval задач.
// Живое расписание - одноразовая проекция JobStore: после рестарта оно
// обязано целиком восстанавливаться через Reconcile.
type Core struct {
	cron     *cron.Cron
	logger   *slog.Logger
	handlers map[JobKind]Handler

	mu      sync.Mutex
	entries map[string]liveEntry
	runCtx  context.Context
}

func New(logger *slog.Logger) *Core {
	return &Core{
		cron:     cron.New(),
		logger:   logger.With(slog.String("component", "scheduler")),
		handlers: make(map[JobKind]Handler),
		entries:  make(map[string]liveEntry),
		runCtx:   context.Background(),
	}
}

// Register binds a handler to a job kind. Call before Start.
func (c *Core) Register(kind JobKind, h Handler) {
	c.handlers[kind] = h
}

// Schedule registers or atomically replaces the entry with the same id:
// two admin actions racing on one job id serialize here, last write wins,
// and exactly one trigger stays live.
func (c *Core) Schedule(jobID, spec string, kind JobKind, payload Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduleLocked(jobID, spec, kind, payload)
}

func (c *Core) scheduleLocked(jobID, spec string, kind JobKind, payload Payload) error {
	if _, ok := c.handlers[kind]; !ok {
		return fmt.Errorf("no handler registered for job kind %q", kind)
	}

	payload.JobID = jobID

	entryID, err := c.cron.AddFunc(spec, func() {
		c.run(kind, payload)
	})
	if err != nil {
		return fmt.Errorf("bad schedule spec %q for %s: %w", spec, jobID, err)
	}

	if old, ok := c.entries[jobID]; ok {
		c.cron.Remove(old.id)
		c.logger.Info("Replaced scheduled job",
			slog.String("job_id", jobID),
			slog.String("old_spec", old.spec),
			slog.String("new_spec", spec))
	} else {
		c.logger.Info("Scheduled job",
			slog.String("job_id", jobID),
			slog.String("spec", spec),
			slog.String("kind", string(kind)))
	}

	c.entries[jobID] = liveEntry{id: entryID, kind: kind, spec: spec}
	return nil
}

// Unschedule removes the live trigger. No-op when absent.
func (c *Core) Unschedule(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[jobID]
	if !ok {
		return
	}
	c.cron.Remove(entry.id)
	delete(c.entries, jobID)
	c.logger.Info("Unscheduled job", slog.String("job_id", jobID))
}

// Reconcile выравнивает живое расписание анализа по персисту: лишнее
// снимается, недостающее добавляется. Системные записи (свипер, дайджест)
// не трогает. Повторный вызов с тем же списком ничего не меняет.
func (c *Core) Reconcile(jobs []domain.ScheduledJob) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desired := make(map[string]domain.ScheduledJob, len(jobs))
	for _, job := range jobs {
		desired[job.JobID] = job
	}

	for jobID, entry := range c.entries {
		if entry.kind != JobKindAnalysis {
			continue
		}
		if _, keep := desired[jobID]; !keep {
			c.cron.Remove(entry.id)
			delete(c.entries, jobID)
			c.logger.Info("Removed stale job", slog.String("job_id", jobID))
		}
	}

	for _, job := range jobs {
		spec := job.CronSpec()
		if entry, ok := c.entries[job.JobID]; ok && entry.spec == spec {
			continue
		}
		if err := c.scheduleLocked(job.JobID, spec, JobKindAnalysis, Payload{Asset: job.Asset}); err != nil {
			return err
		}
	}

	c.logger.Info("Schedule reconciled", slog.Int("analysis_jobs", len(jobs)))
	return nil
}

// JobIDs returns the ids of all live entries, sorted.
func (c *Core) JobIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Start launches the cron loop. Entries fire in their own goroutines, so a
// slow job never delays another job's due-time check.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.cron.Start()
	c.logger.Info("Scheduler started")

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

// Stop halts scheduling and waits for running jobs to finish.
func (c *Core) Stop() {
	<-c.cron.Stop().Done()
	c.logger.Info("Scheduler stopped")
}

// run - граница изоляции: паника или ошибка одной задачи логируется и
// никогда не валит планировщик и соседние задачи.
func (c *Core) run(kind JobKind, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Job panicked",
				slog.String("job_id", payload.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	c.mu.Lock()
	ctx := c.runCtx
	handler := c.handlers[kind]
	c.mu.Unlock()

	if handler == nil {
		c.logger.Error("No handler for fired job",
			slog.String("job_id", payload.JobID),
			slog.String("kind", string(kind)))
		return
	}

	if err := handler(ctx, payload); err != nil {
		c.logger.Error("Job failed",
			slog.String("job_id", payload.JobID),
			slog.String("kind", string(kind)),
			slog.String("err", err.Error()))
	}
}
