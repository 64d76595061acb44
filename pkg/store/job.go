package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nthiel/jobwatch/pkg/database"
)

// JobRepo persists Job rows keyed by their deterministic content hash.
type JobRepo struct {
	db *database.Client
}

// GetByContentHash looks up a job by its content hash.
func (r *JobRepo) GetByContentHash(ctx context.Context, contentHash string) (*Job, error) {
	var j Job
	err := r.db.GetContext(ctx, &j, `
		SELECT content_hash, title, company, description, location, is_remote,
			salary_min, salary_max, salary_currency, application_url, source,
			source_id, posted_date, first_seen_at, last_seen_at
		FROM jobs WHERE content_hash = $1`, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// Upsert inserts a job or, on content_hash conflict, refreshes last_seen_at
// and mutable fields while preserving first_seen_at — the upsert
// invariant for Job.
func (r *JobRepo) Upsert(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (
			content_hash, title, company, description, location, is_remote,
			salary_min, salary_max, salary_currency, application_url, source,
			source_id, posted_date, first_seen_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (content_hash) DO UPDATE SET
			title = EXCLUDED.title,
			company = EXCLUDED.company,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			is_remote = EXCLUDED.is_remote,
			salary_min = EXCLUDED.salary_min,
			salary_max = EXCLUDED.salary_max,
			salary_currency = EXCLUDED.salary_currency,
			application_url = EXCLUDED.application_url,
			last_seen_at = EXCLUDED.last_seen_at`,
		j.ContentHash, j.Title, j.Company, j.Description, j.Location, j.IsRemote,
		j.SalaryMin, j.SalaryMax, j.SalaryCurrency, j.ApplicationURL, j.Source,
		j.SourceID, j.PostedDate, j.LastSeenAt)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetManyByContentHash batch-fetches jobs for the given hashes, in any
// order, skipping hashes with no row.
func (r *JobRepo) GetManyByContentHash(ctx context.Context, contentHashes []string) ([]*Job, error) {
	if len(contentHashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`
		SELECT content_hash, title, company, description, location, is_remote,
			salary_min, salary_max, salary_currency, application_url, source,
			source_id, posted_date, first_seen_at, last_seen_at
		FROM jobs WHERE content_hash IN (?)`, contentHashes)
	if err != nil {
		return nil, fmt.Errorf("build batch job query: %w", err)
	}
	query = r.db.Rebind(query)

	var jobs []*Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("get jobs by content hash: %w", err)
	}
	return jobs, nil
}
