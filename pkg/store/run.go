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

// RunRepo persists Run rows and the lifecycle writes driven by the run
// tracker.
type RunRepo struct {
	db *database.Client
}

const runColumns = `
	id, subscription_id, trigger_type, status, started_at, completed_at,
	duration_ms, current_stage, progress_percent, progress_detail,
	checkpoint, jobs_collected, jobs_after_dedup, jobs_matched,
	notifications_sent, failed_stage, error_message, error_context,
	warnings, worker_pod_id`

// Start inserts a new Run row with status=running. If id is empty, one is
// generated; callers that must know the run id before it exists (e.g. to
// acquire the subscription lock under it) pass their own.
func (r *RunRepo) Start(ctx context.Context, id, subscriptionID, triggerType, podID string) (*Run, error) {
	if id == "" {
		id = uuid.NewString()
	}
	run := &Run{
		ID:             id,
		SubscriptionID: subscriptionID,
		TriggerType:    triggerType,
		Status:         RunStatusRunning,
		StartedAt:      time.Now(),
		WorkerPodID:    podID,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, subscription_id, trigger_type, status, started_at, worker_pod_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.SubscriptionID, run.TriggerType, run.Status, run.StartedAt, run.WorkerPodID)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// GetByID looks up a run by id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.db.GetContext(ctx, &run, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// RunningForSubscription returns the in-flight run for a subscription, if any.
func (r *RunRepo) RunningForSubscription(ctx context.Context, subscriptionID string) (*Run, error) {
	var run Run
	err := r.db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM runs WHERE subscription_id = $1 AND status = $2`,
		subscriptionID, RunStatusRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get running run: %w", err)
	}
	return &run, nil
}

// SetStage updates current_stage and progress, enforcing the monotone
// non-decreasing progress_percent invariant at the SQL layer.
func (r *RunRepo) SetStage(ctx context.Context, id, stage string, progressPercent int, detail string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET current_stage = $2, progress_percent = GREATEST(progress_percent, $3), progress_detail = $4
		WHERE id = $1`, id, stage, progressPercent, detail)
	if err != nil {
		return fmt.Errorf("set run stage: %w", err)
	}
	return nil
}

// SaveCheckpoint persists the opaque recoverability blob for a run.
func (r *RunRepo) SaveCheckpoint(ctx context.Context, id string, checkpoint map[string]any) error {
	col := JSONColumn[map[string]any]{Value: checkpoint}
	_, err := r.db.ExecContext(ctx, `UPDATE runs SET checkpoint = $2 WHERE id = $1`, id, col)
	if err != nil {
		return fmt.Errorf("save run checkpoint: %w", err)
	}
	return nil
}

// AddCounter increments one of the run's monotone counters.
func (r *RunRepo) AddCounter(ctx context.Context, id, counter string, delta int) error {
	column, ok := map[string]string{
		"jobs_collected":     "jobs_collected",
		"jobs_after_dedup":   "jobs_after_dedup",
		"jobs_matched":       "jobs_matched",
		"notifications_sent": "notifications_sent",
	}[counter]
	if !ok {
		return fmt.Errorf("add run counter: unknown counter %q", counter)
	}
	_, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE runs SET %s = %s + $2 WHERE id = $1`, column, column), id, delta)
	if err != nil {
		return fmt.Errorf("add run counter: %w", err)
	}
	return nil
}

// AddWarning appends a warning string to the run's warnings sequence.
func (r *RunRepo) AddWarning(ctx context.Context, id, warning string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET warnings = warnings || to_jsonb($2::text) WHERE id = $1`, id, warning)
	if err != nil {
		return fmt.Errorf("add run warning: %w", err)
	}
	return nil
}

// Complete finalizes a run as completed, stamping completed_at and
// duration_ms. Terminal statuses are permanent: callers must not call this
// (or Fail/Cancel) twice for the same run.
func (r *RunRepo) Complete(ctx context.Context, id string) error {
	return r.finish(ctx, id, RunStatusCompleted, nil, nil)
}

// Fail finalizes a run as failed, recording the failing stage and error.
func (r *RunRepo) Fail(ctx context.Context, id, failedStage, errMessage string, errContext map[string]any) error {
	return r.finishWithError(ctx, id, RunStatusFailed, failedStage, errMessage, errContext)
}

// Cancel finalizes a run as cancelled.
func (r *RunRepo) Cancel(ctx context.Context, id string) error {
	return r.finish(ctx, id, RunStatusCancelled, nil, nil)
}

func (r *RunRepo) finish(ctx context.Context, id, status string, failedStage, errMessage *string) error {
	now := time.Now()
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	duration := now.Sub(run.StartedAt).Milliseconds()
	progress := run.ProgressPercent
	if status == RunStatusCompleted {
		progress = 100
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, completed_at = $3, duration_ms = $4,
			progress_percent = GREATEST(progress_percent, $5), failed_stage = $6, error_message = $7
		WHERE id = $1 AND status = $8`, id, status, now, duration, progress, failedStage, errMessage, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (r *RunRepo) finishWithError(ctx context.Context, id, status, failedStage, errMessage string, errContext map[string]any) error {
	now := time.Now()
	run, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	duration := now.Sub(run.StartedAt).Milliseconds()
	col := JSONColumn[map[string]any]{Value: errContext}
	_, err = r.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, completed_at = $3, duration_ms = $4,
			failed_stage = $5, error_message = $6, error_context = $7
		WHERE id = $1`, id, status, now, duration, failedStage, errMessage, col)
	if err != nil {
		return fmt.Errorf("finish run with error: %w", err)
	}
	return nil
}

// ListActive returns every run currently in status=running, for the admin
// dashboard's /api/runs/active endpoint.
func (r *RunRepo) ListActive(ctx context.Context) ([]*Run, error) {
	var runs []*Run
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY started_at ASC`, RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return runs, nil
}

// ListStuck returns runs that have been running longer than threshold,
// feeding the periodic stuck-run sweep.
func (r *RunRepo) ListStuck(ctx context.Context, threshold time.Duration) ([]*Run, error) {
	var runs []*Run
	cutoff := time.Now().Add(-threshold)
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 AND started_at < $2`,
		RunStatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck runs: %w", err)
	}
	return runs, nil
}

// ListByPod returns running runs claimed by a given worker pod. No startup
// step calls it; abandoned runs are recovered by the scheduler's stuck-run
// sweep.
func (r *RunRepo) ListByPod(ctx context.Context, podID string) ([]*Run, error) {
	var runs []*Run
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 AND worker_pod_id = $2`,
		RunStatusRunning, podID)
	if err != nil {
		return nil, fmt.Errorf("list runs by pod: %w", err)
	}
	return runs, nil
}

// ListPaginated returns runs newest-first, optionally filtered by status,
// for the admin /api/runs listing.
func (r *RunRepo) ListPaginated(ctx context.Context, page, limit int, status string) ([]*Run, Pagination, error) {
	where, args := "", []any{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM runs `+where, countArgs...); err != nil {
		return nil, Pagination{}, fmt.Errorf("count runs: %w", err)
	}
	pg := NewPagination(page, limit, total)

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	query := fmt.Sprintf(`SELECT %s FROM runs %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		runColumns, where, limitPos, offsetPos)
	args = append(args, pg.Limit, pg.Offset())

	var runs []*Run
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, Pagination{}, fmt.Errorf("list runs: %w", err)
	}
	return runs, pg, nil
}

// ListFailed returns the most recent failed runs, feeding the admin
// /api/errors endpoint.
func (r *RunRepo) ListFailed(ctx context.Context, limit int) ([]*Run, error) {
	var runs []*Run
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY completed_at DESC LIMIT $2`,
		RunStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed runs: %w", err)
	}
	return runs, nil
}

// Overview aggregates run counters since the given cutoff (zero value for
// all time), for the admin /api/overview endpoint.
func (r *RunRepo) Overview(ctx context.Context, since time.Time) (OverviewActivity, error) {
	var row struct {
		JobsScanned       int `db:"jobs_scanned"`
		MatchesFound      int `db:"matches_found"`
		NotificationsSent int `db:"notifications_sent"`
		TotalRuns         int `db:"total_runs"`
		FailedRuns        int `db:"failed_runs"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			coalesce(sum(jobs_collected), 0) AS jobs_scanned,
			coalesce(sum(jobs_matched), 0) AS matches_found,
			coalesce(sum(notifications_sent), 0) AS notifications_sent,
			count(*) AS total_runs,
			count(*) FILTER (WHERE status = $1) AS failed_runs
		FROM runs WHERE started_at >= $2`, RunStatusFailed, since)
	if err != nil {
		return OverviewActivity{}, fmt.Errorf("overview: %w", err)
	}
	return OverviewActivity{
		JobsScanned:       row.JobsScanned,
		MatchesFound:      row.MatchesFound,
		NotificationsSent: row.NotificationsSent,
		TotalRuns:         row.TotalRuns,
		FailedRuns:        row.FailedRuns,
	}, nil
}

// ListBySubscription returns recent runs for a subscription, newest first.
func (r *RunRepo) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]*Run, error) {
	var runs []*Run
	err := r.db.SelectContext(ctx, &runs,
		`SELECT `+runColumns+` FROM runs WHERE subscription_id = $1 ORDER BY started_at DESC LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by subscription: %w", err)
	}
	return runs, nil
}
