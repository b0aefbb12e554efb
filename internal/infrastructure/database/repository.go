package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/romanzzaa/forex-alert-bot/internal/domain"
)

// ---------------- Job Repository ----------------

type JobRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewJobRepository(db *DB, logger *slog.Logger) *JobRepository {
	return &JobRepository{db: db, logger: logger}
}

// CreateJob inserts a job. job_id is unique; a collision means the admin
// re-added the same (asset, hour, minute) slot, so the row is refreshed
// in place instead of failing.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (job_id, asset, hour, minute, timezone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
			SET asset = EXCLUDED.asset,
			    hour = EXCLUDED.hour,
			    minute = EXCLUDED.minute,
			    timezone = EXCLUDED.timezone
		RETURNING id
	`

	err := r.db.QueryRowContext(
		ctx, query,
		job.JobID, job.Asset, job.Hour, job.Minute, job.Timezone,
	).Scan(&job.ID)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetAllJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	query := `
		SELECT id, job_id, asset, hour, minute, timezone
		FROM scheduled_jobs
		ORDER BY asset, hour, minute
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ScheduledJob
	for rows.Next() {
		var j domain.ScheduledJob
		if err := rows.Scan(&j.ID, &j.JobID, &j.Asset, &j.Hour, &j.Minute, &j.Timezone); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error) {
	query := `
		SELECT id, job_id, asset, hour, minute, timezone
		FROM scheduled_jobs
		WHERE job_id = $1
	`

	j := &domain.ScheduledJob{}
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&j.ID, &j.JobID, &j.Asset, &j.Hour, &j.Minute, &j.Timezone,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return j, nil
}

func (r *JobRepository) UpdateJobTime(ctx context.Context, jobID string, hour, minute int) error {
	query := `UPDATE scheduled_jobs SET hour = $1, minute = $2 WHERE job_id = $3`

	result, err := r.db.ExecContext(ctx, query, hour, minute, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

func (r *JobRepository) DeleteJob(ctx context.Context, jobID string) error {
	query := `DELETE FROM scheduled_jobs WHERE job_id = $1`

	_, err := r.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// ---------------- Alert Repository ----------------

type AlertRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewAlertRepository(db *DB, logger *slog.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

func (r *AlertRepository) CreateAlert(ctx context.Context, alert *domain.PriceAlert) error {
	query := `
		INSERT INTO price_alerts (user_id, asset, target_price, direction, is_active, is_one_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		alert.UserID, alert.Asset, alert.TargetPrice, alert.Direction, alert.IsActive, alert.IsOneTime,
	).Scan(&alert.ID, &alert.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (r *AlertRepository) GetActiveAlerts(ctx context.Context) ([]domain.PriceAlert, error) {
	query := `
		SELECT id, user_id, asset, target_price, direction, is_active, is_one_time, created_at, triggered_at
		FROM price_alerts
		WHERE is_active = TRUE
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (r *AlertRepository) GetDistinctActiveAssets(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT asset FROM price_alerts WHERE is_active = TRUE`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get distinct assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan asset error: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r *AlertRepository) GetUserAlerts(ctx context.Context, userID int64, activeOnly bool) ([]domain.PriceAlert, error) {
	query := `
		SELECT id, user_id, asset, target_price, direction, is_active, is_one_time, created_at, triggered_at
		FROM price_alerts
		WHERE user_id = $1 AND (is_active = TRUE OR $2 = FALSE)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to get user alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (r *AlertRepository) GetAlertByID(ctx context.Context, id int64) (*domain.PriceAlert, error) {
	query := `
		SELECT id, user_id, asset, target_price, direction, is_active, is_one_time, created_at, triggered_at
		FROM price_alerts
		WHERE id = $1
	`

	alert := &domain.PriceAlert{}
	var triggeredAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&alert.ID, &alert.UserID, &alert.Asset, &alert.TargetPrice, &alert.Direction,
		&alert.IsActive, &alert.IsOneTime, &alert.CreatedAt, &triggeredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if triggeredAt.Valid {
		alert.TriggeredAt = &triggeredAt.Time
	}
	return alert, nil
}

// DeactivateAlerts is the batched end-of-sweep write: one UPDATE covers
// every one-time alert that fired this tick.
func (r *AlertRepository) DeactivateAlerts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE price_alerts
		SET is_active = FALSE, triggered_at = NOW()
		WHERE id = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to deactivate %d alerts: %w", len(ids), err)
	}

	r.logger.Info("Deactivated one-time price alerts", slog.Int("count", len(ids)))
	return nil
}

func (r *AlertRepository) DeleteAlert(ctx context.Context, id int64) error {
	query := `DELETE FROM price_alerts WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert %d: %w", id, err)
	}
	return nil
}

func scanAlerts(rows *sql.Rows) ([]domain.PriceAlert, error) {
	var alerts []domain.PriceAlert
	for rows.Next() {
		var a domain.PriceAlert
		var triggeredAt sql.NullTime

		err := rows.Scan(
			&a.ID, &a.UserID, &a.Asset, &a.TargetPrice, &a.Direction,
			&a.IsActive, &a.IsOneTime, &a.CreatedAt, &triggeredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert error: %w", err)
		}
		if triggeredAt.Valid {
			a.TriggeredAt = &triggeredAt.Time
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ---------------- User Repository ----------------

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert registers a user on first contact and refreshes the profile
// fields on every subsequent /start.
func (r *UserRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, username, first_name, tier, is_vip, credits, joined_at)
		VALUES ($1, $2, $3, 'free', FALSE, 10, NOW())
		ON CONFLICT (id) DO UPDATE
			SET username = EXCLUDED.username,
			    first_name = EXCLUDED.first_name
		RETURNING tier, is_vip, credits, joined_at
	`

	err := r.db.QueryRowContext(ctx, query, user.ID, user.Username, user.FirstName).
		Scan(&user.Tier, &user.IsVIP, &user.Credits, &user.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, username, first_name, tier, subscription_expiry, is_vip, credits, joined_at
		FROM users
		WHERE id = $1
	`

	user := &domain.User{}
	var expiry sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.Tier,
		&expiry, &user.IsVIP, &user.Credits, &user.JoinedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if expiry.Valid {
		user.SubscriptionExpiry = &expiry.Time
	}
	return user, nil
}

func (r *UserRepository) GetVIPUsers(ctx context.Context) ([]domain.User, error) {
	query := `
		SELECT id, username, first_name, tier, subscription_expiry, is_vip, credits, joined_at
		FROM users
		WHERE is_vip = TRUE
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get vip users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var expiry sql.NullTime
		err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.Tier, &expiry, &u.IsVIP, &u.Credits, &u.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("scan user error: %w", err)
		}
		if expiry.Valid {
			u.SubscriptionExpiry = &expiry.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) GetAllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to get user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id error: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) SetVIP(ctx context.Context, id int64, vip bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET is_vip = $1 WHERE id = $2`, vip, id)
	if err != nil {
		return false, fmt.Errorf("failed to set vip: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *UserRepository) ChangeCredits(ctx context.Context, id int64, delta int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET credits = credits + $1 WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("failed to change credits: %w", err)
	}
	return nil
}

func (r *UserRepository) Stats(ctx context.Context) (domain.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE tier = 'free'),
			(SELECT COUNT(*) FROM users WHERE tier = 'standard'),
			(SELECT COUNT(*) FROM users WHERE tier = 'pro'),
			(SELECT COUNT(*) FROM users WHERE is_vip = TRUE),
			(SELECT COUNT(*) FROM scheduled_jobs),
			(SELECT COUNT(*) FROM price_alerts)
	`

	var s domain.Stats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&s.TotalUsers, &s.FreeUsers, &s.StandardUsers, &s.ProUsers,
		&s.VIPUsers, &s.ActiveJobs, &s.TotalAlerts,
	)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return s, nil
}
