package adminapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// authMiddleware rejects any request whose X-Admin-Key header does not
// match the configured API key.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" || c.GetHeader("X-Admin-Key") != s.cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing X-Admin-Key"})
			return
		}
		c.Next()
	}
}

// ipLimiters is a per-client-IP token bucket registry backing the admin
// surface's rate limit, mirroring the per-source registry in
// pkg/ratelimiter but keyed by remote address instead of scrape source.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	if rps <= 0 {
		rps = 30.0 / 60.0
	}
	if burst <= 0 {
		burst = 10
	}
	return &ipLimiters{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *ipLimiters) forIP(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[ip]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.limiters[ip] = lim
	return lim
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	rps := s.cfg.RateLimitRPS
	if rps <= 0 {
		rps = 30.0 / 60.0 // 30 requests/min default
	}
	limiters := newIPLimiters(rps, s.cfg.RateLimitBurst)
	return func(c *gin.Context) {
		if !limiters.forIP(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
