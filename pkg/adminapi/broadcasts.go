package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listBroadcasts handles GET /api/broadcasts?page&limit.
func (s *Server) listBroadcasts(c *gin.Context) {
	page, limit := pageLimit(c)
	broadcasts, pg, err := s.store.Broadcasts.List(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": broadcasts, "pagination": pg})
}

// createBroadcastRequest is the body for POST /api/broadcasts.
type createBroadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

// createBroadcast handles POST /api/broadcasts: fans a message out to
// every user's chat, then records the outcome.
func (s *Server) createBroadcast(c *gin.Context) {
	var req createBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	const pageSize = 200
	sent := 0
	for page := 1; ; page++ {
		users, pg, err := s.store.Users.ListPaginated(ctx, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, u := range users {
			if err := s.notify.SendText(ctx, u.ExternalChatID, req.Message); err != nil {
				s.logger.Warn("adminapi: broadcast send failed", "user_id", u.ID, "error", err)
				continue
			}
			sent++
		}
		if page >= pg.TotalPages {
			break
		}
	}

	broadcast, err := s.store.Broadcasts.Create(ctx, req.Message, sent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"broadcast": broadcast})
}
