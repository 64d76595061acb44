package orcherrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfClassifiesWrappedError(t *testing.T) {
	err := New(RateLimited, "scraper.scrape", errors.New("429"))
	require.Equal(t, RateLimited, KindOf(err))
	require.True(t, errors.Is(err, IsRateLimited))
	require.False(t, errors.Is(err, IsTransient))
}

func TestKindOfDefaultsToFatalForUnclassifiedError(t *testing.T) {
	require.Equal(t, Fatal, KindOf(errors.New("boom")))
}

func TestRetryableCoversTransientAndRateLimited(t *testing.T) {
	require.True(t, Retryable(New(Transient, "op", nil)))
	require.True(t, Retryable(New(RateLimited, "op", nil)))
	require.False(t, Retryable(New(InvalidInput, "op", nil)))
	require.False(t, Retryable(New(Fatal, "op", nil)))
}

func TestErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := New(Transient, "scraper.scrape", cause)
	require.ErrorIs(t, err, cause)
}
