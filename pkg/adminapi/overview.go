package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/store"
)

// periodWindow resolves the overview period query param to a cutoff time
// and a human label.
func periodWindow(period string) (time.Time, string) {
	switch period {
	case "7d":
		return time.Now().AddDate(0, 0, -7), "Last 7 days"
	case "30d":
		return time.Now().AddDate(0, 0, -30), "Last 30 days"
	case "all":
		return time.Time{}, "All time"
	default:
		return time.Now().Add(-24 * time.Hour), "Last 24 hours"
	}
}

// getOverview handles GET /api/overview?period=24h|7d|30d|all&compare=true|false.
func (s *Server) getOverview(c *gin.Context) {
	ctx := c.Request.Context()
	period := c.DefaultQuery("period", "24h")
	compare := c.Query("compare") == "true"

	since, label := periodWindow(period)
	activity, err := s.store.Runs.Overview(ctx, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	activity.Period = period
	activity.PeriodLabel = label

	userCount, err := s.store.Users.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	subCount, err := s.store.Subscriptions.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"users": userCount, "subscriptions": subCount, "activity": activity}

	if compare && !since.IsZero() {
		span := time.Since(since)
		prevSince := since.Add(-span)
		// Overview counts everything since its cutoff, so the previous
		// period is the total since prevSince minus the current period.
		prevTotal, err := s.store.Runs.Overview(ctx, prevSince)
		if err == nil {
			prevActivity := store.OverviewActivity{
				JobsScanned:       prevTotal.JobsScanned - activity.JobsScanned,
				MatchesFound:      prevTotal.MatchesFound - activity.MatchesFound,
				NotificationsSent: prevTotal.NotificationsSent - activity.NotificationsSent,
				TotalRuns:         prevTotal.TotalRuns - activity.TotalRuns,
				FailedRuns:        prevTotal.FailedRuns - activity.FailedRuns,
			}
			resp["comparison"] = comparePeriods(activity, prevActivity)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// comparePeriods computes the percent change per metric between the
// current and previous period's activity.
func comparePeriods(current, previous store.OverviewActivity) gin.H {
	return gin.H{
		"jobs_scanned_pct_change":       pctChange(current.JobsScanned, previous.JobsScanned),
		"matches_found_pct_change":      pctChange(current.MatchesFound, previous.MatchesFound),
		"notifications_sent_pct_change": pctChange(current.NotificationsSent, previous.NotificationsSent),
		"total_runs_pct_change":         pctChange(current.TotalRuns, previous.TotalRuns),
		"failed_runs_pct_change":        pctChange(current.FailedRuns, previous.FailedRuns),
	}
}

func pctChange(current, previous int) *float64 {
	if previous == 0 {
		return nil
	}
	v := (float64(current) - float64(previous)) / float64(previous) * 100
	return &v
}
