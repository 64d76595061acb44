package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/orcherrors"
)

func TestClassifyGenaiErrorRateLimit(t *testing.T) {
	err := classifyGenaiError("llm.expand_titles", errors.New("429: quota exceeded"))
	require.Equal(t, orcherrors.RateLimited, orcherrors.KindOf(err))
}

func TestClassifyGenaiErrorServerSide(t *testing.T) {
	err := classifyGenaiError("llm.score_match", errors.New("503: service unavailable"))
	require.Equal(t, orcherrors.Transient, orcherrors.KindOf(err))
}

func TestClassifyGenaiErrorInvalidInput(t *testing.T) {
	err := classifyGenaiError("llm.score_match", errors.New("400: invalid argument"))
	require.Equal(t, orcherrors.InvalidInput, orcherrors.KindOf(err))
}

func TestTruncateRunesLeavesShortStringsIntact(t *testing.T) {
	require.Equal(t, "hello", truncateRunes("hello", 10))
}

func TestTruncateRunesCutsAtRuneBoundary(t *testing.T) {
	require.Equal(t, "héllo", truncateRunes("héllo world", 5))
}
