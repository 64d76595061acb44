package adminapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nthiel/jobwatch/pkg/store"
)

// listUsers handles GET /api/users?page&limit.
func (s *Server) listUsers(c *gin.Context) {
	page, limit := pageLimit(c)
	users, pg, err := s.store.Users.ListPaginated(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "pagination": pg})
}

// getUser handles GET /api/users/:id.
func (s *Server) getUser(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.store.Users.GetByID(ctx, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	subs, err := s.store.Subscriptions.ListByUser(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "subscriptions": subs})
}
