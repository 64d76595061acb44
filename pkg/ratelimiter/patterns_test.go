package ratelimiter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/ratelimiter"
)

func TestIsRateLimitError(t *testing.T) {
	cases := map[string]bool{
		"HTTP 429 Too Many Requests":      true,
		"rate limit exceeded":             true,
		"rate-limit exceeded":             true,
		"Too Many Requests from this IP":  true,
		"quota exceeded for this project": true,
		"request throttled, try again":    true,
		"over capacity, please retry":     true,
		"connection reset by peer":        false,
		"invalid input: missing field":    false,
		"internal server error":           false,
	}

	for msg, want := range cases {
		require.Equal(t, want, ratelimiter.IsRateLimitError(msg), "message: %s", msg)
	}
}
