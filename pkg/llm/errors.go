package llm

import (
	"errors"
	"net"
	"strings"

	"github.com/nthiel/jobwatch/pkg/orcherrors"
	"github.com/nthiel/jobwatch/pkg/ratelimiter"
)

// classifyGenaiError maps an error returned by the genai SDK onto the
// orchestrator's closed taxonomy. The SDK surfaces API errors as plain
// strings (no typed status), so classification falls back to pattern
// matching the same way the scraper client does.
func classifyGenaiError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	if ratelimiter.IsRateLimitError(msg) {
		return orcherrors.New(orcherrors.RateLimited, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return orcherrors.New(orcherrors.Transient, op, err)
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "internal"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"):
		return orcherrors.New(orcherrors.Transient, op, err)
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "400"),
		strings.Contains(lower, "permission"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "403"):
		return orcherrors.New(orcherrors.InvalidInput, op, err)
	default:
		return orcherrors.New(orcherrors.Transient, op, err)
	}
}
