package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/database"
)

// SubscriptionRepo persists Subscription rows.
type SubscriptionRepo struct {
	db *database.Client
}

const subscriptionColumns = `
	id, user_id, job_titles, normalized_locations, job_types, min_score,
	date_posted, excluded_titles, excluded_companies, resume_text,
	resume_hash, is_active, is_paused, debug_mode, scan_cadence_minutes,
	next_run_at, last_search_at, created_at`

// GetByID looks up a subscription by id.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	err := r.db.GetContext(ctx, &s,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &s, nil
}

// Create inserts a new subscription, setting next_run_at to now (the
// Δ≈0 for first run).
func (r *SubscriptionRepo) Create(ctx context.Context, s *Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.NextRunAt.IsZero() {
		s.NextRunAt = time.Now()
	}
	if s.ScanCadenceMinutes <= 0 {
		s.ScanCadenceMinutes = 60
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, user_id, job_titles, normalized_locations, job_types, min_score,
			date_posted, excluded_titles, excluded_companies, resume_text,
			resume_hash, is_active, is_paused, debug_mode, scan_cadence_minutes,
			next_run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.UserID, s.JobTitles, s.NormalizedLocations, s.JobTypes, s.MinScore,
		s.DatePosted, s.ExcludedTitles, s.ExcludedCompanies, s.ResumeText,
		s.ResumeHash, s.IsActive, s.IsPaused, s.DebugMode, s.ScanCadenceMinutes,
		s.NextRunAt)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// ListDue returns up to limit eligible subscriptions (is_active AND NOT
// is_paused) whose next_run_at has passed, ordered oldest-due first. Used by
// the scheduler's per-tick selection.
func (r *SubscriptionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE is_active AND NOT is_paused AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	return subs, nil
}

// RescheduleAfterRun sets next_run_at to now+cadence and stamps last_search_at,
// per the "after each completed run" invariant.
func (r *SubscriptionRepo) RescheduleAfterRun(ctx context.Context, id string, cadence time.Duration, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET next_run_at = $2, last_search_at = $3 WHERE id = $1`,
		id, at.Add(cadence), at)
	if err != nil {
		return fmt.Errorf("reschedule subscription: %w", err)
	}
	return nil
}

// SetPaused toggles is_paused, e.g. via the admin API.
func (r *SubscriptionRepo) SetPaused(ctx context.Context, id string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET is_paused = $2 WHERE id = $1`, id, paused)
	if err != nil {
		return fmt.Errorf("set subscription paused: %w", err)
	}
	return nil
}

// SetDebugMode toggles debug_mode. The flag is stored and returned by the
// admin API; the pipeline driver does not read it.
func (r *SubscriptionRepo) SetDebugMode(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions SET debug_mode = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set subscription debug mode: %w", err)
	}
	return nil
}

// Delete removes a subscription (and, by cascade, its runs), per the
// "destroyed when user deletes it" lifecycle.
func (r *SubscriptionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListPaginated returns subscriptions with their most recent run's outcome,
// filtered by status (active, paused, inactive, or "" for all), for the
// admin /api/subscriptions listing.
func (r *SubscriptionRepo) ListPaginated(ctx context.Context, page, limit int, status string) ([]*SubscriptionSummary, Pagination, error) {
	where := ""
	switch status {
	case "active":
		where = "WHERE s.is_active AND NOT s.is_paused"
	case "paused":
		where = "WHERE s.is_paused"
	case "inactive":
		where = "WHERE NOT s.is_active"
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM subscriptions s `+where); err != nil {
		return nil, Pagination{}, fmt.Errorf("count subscriptions: %w", err)
	}
	pg := NewPagination(page, limit, total)

	var subs []*SubscriptionSummary
	query := `
		SELECT
			s.id, s.user_id, s.job_titles, s.normalized_locations, s.job_types, s.min_score,
			s.date_posted, s.excluded_titles, s.excluded_companies, s.resume_text,
			s.resume_hash, s.is_active, s.is_paused, s.debug_mode, s.scan_cadence_minutes,
			s.next_run_at, s.last_search_at, s.created_at,
			lr.status AS last_run_status, lr.started_at AS last_run_at, lr.jobs_matched AS last_run_matches
		FROM subscriptions s
		LEFT JOIN LATERAL (
			SELECT status, started_at, jobs_matched FROM runs
			WHERE subscription_id = s.id ORDER BY started_at DESC LIMIT 1
		) lr ON true
		` + where + `
		ORDER BY s.next_run_at ASC
		LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &subs, query, pg.Limit, pg.Offset()); err != nil {
		return nil, Pagination{}, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, pg, nil
}

// Count returns the total number of subscriptions.
func (r *SubscriptionRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM subscriptions`); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

// ListByUser returns every subscription owned by the given user.
func (r *SubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.SelectContext(ctx, &subs,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by user: %w", err)
	}
	return subs, nil
}
