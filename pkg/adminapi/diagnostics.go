package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/store"
)

// runningRunDiagnostic is one entry of the diagnostics running-runs list.
type runningRunDiagnostic struct {
	ID                string   `json:"id"`
	SubscriptionID    string   `json:"subscription_id"`
	Username          string   `json:"username"`
	StartedAt         time.Time `json:"started_at"`
	DurationMinutes   float64  `json:"duration_minutes"`
	Stage             string   `json:"stage"`
	ProgressPercent   int      `json:"progress_percent"`
	HasCheckpoint     bool     `json:"has_checkpoint"`
	LockStatus        string   `json:"lock_status"`
	Issues            []string `json:"issues"`
}

const (
	lockStatusLocked   = "LOCKED"
	lockStatusUnlocked = "UNLOCKED"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// buildRunningDiagnostic derives one run's diagnostic row, including the
// lock-status cross-check against the KV store and the issue list.
func (s *Server) buildRunningDiagnostic(c *gin.Context, run *store.Run) runningRunDiagnostic {
	ctx := c.Request.Context()
	duration := time.Since(run.StartedAt)

	username := run.SubscriptionID
	if sub, err := s.store.Subscriptions.GetByID(ctx, run.SubscriptionID); err == nil {
		if user, err := s.store.Users.GetByID(ctx, sub.UserID); err == nil {
			username = user.DisplayHandle
		}
	}

	stage := ""
	if run.CurrentStage != nil {
		stage = *run.CurrentStage
	}

	lockStatus := lockStatusUnlocked
	if held, err := s.kv.IsHeld(ctx, run.SubscriptionID); err == nil && held {
		lockStatus = lockStatusLocked
	}

	var issues []string
	if duration > 30*time.Minute {
		issues = append(issues, "duration > 30 min")
	}
	hasCheckpoint := len(run.Checkpoint.Value) > 0
	if !hasCheckpoint && duration > 10*time.Minute {
		issues = append(issues, "no checkpoint after 10 min")
	}
	if lockStatus == lockStatusUnlocked {
		issues = append(issues, "lock missing — potential race")
	}
	if stage == store.StageCollection && duration > 10*time.Minute {
		issues = append(issues, "stuck in collection")
	}

	return runningRunDiagnostic{
		ID:              shortID(run.ID),
		SubscriptionID:  run.SubscriptionID,
		Username:        username,
		StartedAt:       run.StartedAt,
		DurationMinutes: duration.Minutes(),
		Stage:           stage,
		ProgressPercent: run.ProgressPercent,
		HasCheckpoint:   hasCheckpoint,
		LockStatus:      lockStatus,
		Issues:          issues,
	}
}

// getDiagnostics handles GET /api/diagnostics: running runs with lock
// cross-checks, queue depths, recent failures, and request-cache size.
func (s *Server) getDiagnostics(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := s.store.Runs.ListActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	running := make([]runningRunDiagnostic, 0, len(active))
	for _, run := range active {
		running = append(running, s.buildRunningDiagnostic(c, run))
	}

	var queueStats map[string]queueDepth
	if s.queue != nil {
		depths, err := s.queue.Depths(ctx)
		if err == nil {
			queueStats = make(map[string]queueDepth, len(depths))
			for name, d := range depths {
				queueStats[name] = queueDepth{Waiting: d.Waiting, Active: d.Active, Delayed: d.Delayed}
			}
		}
	}

	recentFailures, err := s.store.Runs.ListFailed(ctx, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	requestCacheSize := 0
	if s.driver != nil {
		requestCacheSize = s.driver.RequestCacheSize()
	}

	c.JSON(http.StatusOK, gin.H{
		"running_runs":        running,
		"queue_stats":         queueStats,
		"recent_failures":     recentFailures,
		"request_cache_size":  requestCacheSize,
	})
}

// queueDepth is the admin-facing rendering of queue.Depth.
type queueDepth struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
}

// failStuckRunsRequest is the body for POST /api/diagnostics/fail-stuck.
type failStuckRunsRequest struct {
	MinAgeMinutes int `json:"min_age_minutes"`
}

// failStuckRuns handles POST /api/diagnostics/fail-stuck, force-failing
// runs that have been running longer than min_age_minutes.
func (s *Server) failStuckRuns(c *gin.Context) {
	var req failStuckRunsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MinAgeMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"min_age_minutes\": positive number}"})
		return
	}

	n, err := s.scheduler.ForceFailStuck(c.Request.Context(), time.Duration(req.MinAgeMinutes)*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": n})
}
