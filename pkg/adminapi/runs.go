package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/store"
)

// listRuns handles GET /api/runs?page&limit&status.
func (s *Server) listRuns(c *gin.Context) {
	page, limit := pageLimit(c)
	status := c.Query("status")
	runs, pg, err := s.store.Runs.ListPaginated(c.Request.Context(), page, limit, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "pagination": pg})
}

// stopRun handles POST /api/runs/:id/stop, invoking cancel_run.
func (s *Server) stopRun(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	run, err := s.store.Runs.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	counts, err := s.queue.CancelRun(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": run.ID, "removed_jobs": counts})
}

// listActiveRuns handles GET /api/runs/active: a snapshot of running runs
// with their tracker-reported progress.
func (s *Server) listActiveRuns(c *gin.Context) {
	ctx := c.Request.Context()
	runs, err := s.store.Runs.ListActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// listErrors handles GET /api/errors?limit: recently failed runs.
func (s *Server) listErrors(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	runs, err := s.store.Runs.ListFailed(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": runs})
}
