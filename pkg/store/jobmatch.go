package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nthiel/jobwatch/pkg/database"
)

// JobMatchRepo persists JobMatch rows.
type JobMatchRepo struct {
	db *database.Client
}

const jobMatchColumns = `
	id, job_id, resume_hash, score, reasoning, matched_skills, missing_skills,
	pros, cons, created_at`

// GetByID looks up a match by id.
func (r *JobMatchRepo) GetByID(ctx context.Context, id string) (*JobMatch, error) {
	var m JobMatch
	err := r.db.GetContext(ctx, &m, `SELECT `+jobMatchColumns+` FROM job_matches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job match: %w", err)
	}
	return &m, nil
}

// Upsert inserts a match or, on (job_id, resume_hash) conflict, replaces the
// scoring fields — re-scoring a job is always an upsert, never a new row.
func (r *JobMatchRepo) Upsert(ctx context.Context, m *JobMatch) (*JobMatch, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var id string
	err := r.db.GetContext(ctx, &id, `
		INSERT INTO job_matches (
			id, job_id, resume_hash, score, reasoning, matched_skills,
			missing_skills, pros, cons
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, resume_hash) DO UPDATE SET
			score = EXCLUDED.score,
			reasoning = EXCLUDED.reasoning,
			matched_skills = EXCLUDED.matched_skills,
			missing_skills = EXCLUDED.missing_skills,
			pros = EXCLUDED.pros,
			cons = EXCLUDED.cons
		RETURNING id`,
		m.ID, m.JobID, m.ResumeHash, m.Score, m.Reasoning, m.MatchedSkills,
		m.MissingSkills, m.Pros, m.Cons)
	if err != nil {
		return nil, fmt.Errorf("upsert job match: %w", err)
	}
	return r.GetByID(ctx, id)
}

// SkillStat is one entry of a subscription's matched-skill frequency table.
type SkillStat struct {
	Skill string `db:"skill" json:"skill"`
	Count int    `db:"count" json:"count"`
}

// SkillStats returns the most frequently matched skills across every match
// scored against resumeHash, for the admin subscription-detail view.
func (r *JobMatchRepo) SkillStats(ctx context.Context, resumeHash string, limit int) ([]SkillStat, error) {
	var stats []SkillStat
	err := r.db.SelectContext(ctx, &stats, `
		SELECT skill, count(*) AS count
		FROM job_matches, jsonb_array_elements_text(matched_skills) AS skill
		WHERE resume_hash = $1
		GROUP BY skill
		ORDER BY count DESC, skill ASC
		LIMIT $2`, resumeHash, limit)
	if err != nil {
		return nil, fmt.Errorf("skill stats: %w", err)
	}
	return stats, nil
}

// BatchCacheLookup implements the adaptive batch processor's Phase A: find
// every JobMatch for a job whose content hash is in contentHashes, scored
// against the given resume hash.
func (r *JobMatchRepo) BatchCacheLookup(ctx context.Context, contentHashes []string, resumeHash string) ([]*JobMatch, error) {
	if len(contentHashes) == 0 {
		return nil, nil
	}
	query, args, err := sqlxIn(`
		SELECT `+jobMatchColumns+`
		FROM job_matches
		WHERE job_id IN (?) AND resume_hash = ?`, contentHashes, resumeHash)
	if err != nil {
		return nil, fmt.Errorf("build batch cache lookup: %w", err)
	}
	query = r.db.Rebind(query)

	var matches []*JobMatch
	if err := r.db.SelectContext(ctx, &matches, query, args...); err != nil {
		return nil, fmt.Errorf("batch cache lookup: %w", err)
	}
	return matches, nil
}
