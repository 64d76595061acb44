package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONColumn adapts an arbitrary Go value to a JSONB column via
// database/sql's Scanner/Valuer, used for every semi-structured attribute
// in the data model (job_titles, normalized_locations, matched_skills, ...).
type JSONColumn[T any] struct {
	Value T
}

// Value implements driver.Valuer.
func (c JSONColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (c *JSONColumn[T]) Scan(src any) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan json column: unsupported type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, &c.Value)
}

// User is an end user, created on first chat interaction.
type User struct {
	ID                      string    `db:"id"`
	ExternalChatID          string    `db:"external_chat_id"`
	DisplayHandle           string    `db:"display_handle"`
	SkipCrossSubDuplicates  bool      `db:"skip_cross_sub_duplicates"`
	CreatedAt               time.Time `db:"created_at"`
}

// Location is one element of a Subscription's normalized_locations sequence.
type Location struct {
	Display        string   `json:"display"`
	Type           string   `json:"type"` // physical | remote
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
	State          string   `json:"state,omitempty"`
	SearchVariants []string `json:"search_variants,omitempty"`
}

// Subscription represents one saved search.
type Subscription struct {
	ID                 string                      `db:"id"`
	UserID             string                      `db:"user_id"`
	JobTitles          JSONColumn[[]string]        `db:"job_titles"`
	NormalizedLocations JSONColumn[[]Location]     `db:"normalized_locations"`
	JobTypes           JSONColumn[[]string]        `db:"job_types"`
	MinScore           int                         `db:"min_score"`
	DatePosted         string                      `db:"date_posted"`
	ExcludedTitles     JSONColumn[[]string]        `db:"excluded_titles"`
	ExcludedCompanies  JSONColumn[[]string]        `db:"excluded_companies"`
	ResumeText         string                      `db:"resume_text"`
	ResumeHash         string                      `db:"resume_hash"`
	IsActive           bool                        `db:"is_active"`
	IsPaused           bool                        `db:"is_paused"`
	DebugMode          bool                        `db:"debug_mode"`
	ScanCadenceMinutes int                         `db:"scan_cadence_minutes"`
	NextRunAt          time.Time                   `db:"next_run_at"`
	LastSearchAt       *time.Time                  `db:"last_search_at"`
	CreatedAt          time.Time                   `db:"created_at"`
}

// Eligible reports whether the subscription may be scheduled: eligible iff
// is_active and not is_paused.
func (s *Subscription) Eligible() bool {
	return s.IsActive && !s.IsPaused
}

// Cadence is the interval between the end of one completed run and the
// start of the next.
func (s *Subscription) Cadence() time.Duration {
	if s.ScanCadenceMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.ScanCadenceMinutes) * time.Minute
}

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run trigger types.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerInitial   = "initial"
)

// Pipeline stages.
const (
	StageExpansion      = "expansion"
	StageCollection     = "collection"
	StageNormalization  = "normalization"
	StageMatching       = "matching"
	StageNotification   = "notification"
)

// Run represents one execution of a subscription.
type Run struct {
	ID                string               `db:"id"`
	SubscriptionID    string               `db:"subscription_id"`
	TriggerType       string               `db:"trigger_type"`
	Status            string               `db:"status"`
	StartedAt         time.Time            `db:"started_at"`
	CompletedAt       *time.Time           `db:"completed_at"`
	DurationMs        *int64               `db:"duration_ms"`
	CurrentStage      *string              `db:"current_stage"`
	ProgressPercent   int                  `db:"progress_percent"`
	ProgressDetail    string               `db:"progress_detail"`
	Checkpoint        JSONColumn[map[string]any] `db:"checkpoint"`
	JobsCollected     int                  `db:"jobs_collected"`
	JobsAfterDedup    int                  `db:"jobs_after_dedup"`
	JobsMatched       int                  `db:"jobs_matched"`
	NotificationsSent int                  `db:"notifications_sent"`
	FailedStage       *string              `db:"failed_stage"`
	ErrorMessage      *string              `db:"error_message"`
	ErrorContext      JSONColumn[map[string]any] `db:"error_context"`
	Warnings          JSONColumn[[]string] `db:"warnings"`
	WorkerPodID       string               `db:"worker_pod_id"`
}

// Job is a normalized posting keyed by its content hash.
type Job struct {
	ContentHash     string     `db:"content_hash"`
	Title           string     `db:"title"`
	Company         string     `db:"company"`
	Description     string     `db:"description"`
	Location        string     `db:"location"`
	IsRemote        bool       `db:"is_remote"`
	SalaryMin       *float64   `db:"salary_min"`
	SalaryMax       *float64   `db:"salary_max"`
	SalaryCurrency  *string    `db:"salary_currency"`
	ApplicationURL  string     `db:"application_url"`
	Source          string     `db:"source"`
	SourceID        string     `db:"source_id"`
	PostedDate      *time.Time `db:"posted_date"`
	FirstSeenAt     time.Time  `db:"first_seen_at"`
	LastSeenAt      time.Time  `db:"last_seen_at"`
}

// JobMatch is the result of scoring one job against one resume.
type JobMatch struct {
	ID            string               `db:"id"`
	JobID         string               `db:"job_id"`
	ResumeHash    string               `db:"resume_hash"`
	Score         int                  `db:"score"`
	Reasoning     string               `db:"reasoning"`
	MatchedSkills JSONColumn[[]string] `db:"matched_skills"`
	MissingSkills JSONColumn[[]string] `db:"missing_skills"`
	Pros          JSONColumn[[]string] `db:"pros"`
	Cons          JSONColumn[[]string] `db:"cons"`
	CreatedAt     time.Time            `db:"created_at"`
}

// SentNotification is an at-most-once ledger entry.
type SentNotification struct {
	ID             string    `db:"id"`
	SubscriptionID string    `db:"subscription_id"`
	JobMatchID     string    `db:"job_match_id"`
	SentAt         time.Time `db:"sent_at"`
}

// Broadcast is an administrator message fanned out to every user's chat.
type Broadcast struct {
	ID        string    `db:"id"`
	Message   string    `db:"message"`
	SentCount int       `db:"sent_count"`
	CreatedAt time.Time `db:"created_at"`
}

// Pagination describes one page of a list endpoint's result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes Pagination from a page/limit request and the
// total row count, clamping page/limit to sane minimums.
func NewPagination(page, limit, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// Offset is the SQL OFFSET for this page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// UserSummary is one row of the admin users listing: a user plus its
// subscription counts.
type UserSummary struct {
	User
	ActiveSubscriptions int `db:"active_subscriptions" json:"active_subscriptions"`
	TotalSubscriptions  int `db:"total_subscriptions" json:"total_subscriptions"`
}

// SubscriptionSummary is one row of the admin subscriptions listing: a
// subscription plus its most recent run's outcome.
type SubscriptionSummary struct {
	Subscription
	LastRunStatus   *string    `db:"last_run_status" json:"last_run_status,omitempty"`
	LastRunAt       *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	LastRunMatches  *int       `db:"last_run_matches" json:"last_run_matches,omitempty"`
}

// OverviewActivity aggregates run counters over a reporting period.
type OverviewActivity struct {
	JobsScanned        int    `json:"jobs_scanned"`
	MatchesFound       int    `json:"matches_found"`
	NotificationsSent  int    `json:"notifications_sent"`
	TotalRuns          int    `json:"total_runs"`
	FailedRuns         int    `json:"failed_runs"`
	Period             string `json:"period"`
	PeriodLabel        string `json:"period_label"`
}
