package adminapi

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// parsePositiveInt parses s as a positive integer, rejecting zero and
// negative values.
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// pageLimit parses page/limit query params with sane defaults, used by
// every paginated list endpoint.
func pageLimit(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}
	return page, limit
}
