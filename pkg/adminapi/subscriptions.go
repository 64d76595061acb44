package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/scheduler"
	"github.com/nthiel/jobwatch/pkg/store"
)

// listSubscriptions handles GET /api/subscriptions?page&limit&status=active|paused|inactive.
func (s *Server) listSubscriptions(c *gin.Context) {
	page, limit := pageLimit(c)
	status := c.Query("status")
	subs, pg, err := s.store.Subscriptions.ListPaginated(c.Request.Context(), page, limit, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "pagination": pg})
}

// getSubscription handles GET /api/subscriptions/:id: detail, last 20 runs,
// and matched-skill frequency stats.
func (s *Server) getSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := s.store.Subscriptions.GetByID(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	runs, err := s.store.Runs.ListBySubscription(ctx, sub.ID, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	skillStats, err := s.store.JobMatches.SkillStats(ctx, sub.ResumeHash, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "runs": runs, "skill_stats": skillStats})
}

// setSubscriptionDebugRequest is the body for POST /api/subscriptions/:id/debug.
type setSubscriptionDebugRequest struct {
	Enabled *bool `json:"enabled"`
}

// setSubscriptionDebug handles POST /api/subscriptions/:id/debug, toggling
// debug_mode. 400 if the body's "enabled" is missing or not a bool, 404 if
// the subscription doesn't exist.
func (s *Server) setSubscriptionDebug(c *gin.Context) {
	var req setSubscriptionDebugRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"enabled\": bool}"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.store.Subscriptions.GetByID(ctx, id); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.store.Subscriptions.SetDebugMode(ctx, id, *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "debug_mode": *req.Enabled})
}

// runSubscription handles POST /api/subscriptions/:id/run: a manual
// trigger, returning 409 if the subscription's lock is already held.
func (s *Server) runSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := s.store.Subscriptions.GetByID(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.scheduler.TriggerManual(ctx, sub); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress for this subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"subscription_id": sub.ID, "status": "triggered"})
}
