package matcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/orcherrors"
	"github.com/nthiel/jobwatch/pkg/queue"
)

func TestClampScoreRoundsAndClamps(t *testing.T) {
	require.Equal(t, 1, clampScore(0))
	require.Equal(t, 1, clampScore(-5))
	require.Equal(t, 100, clampScore(150))
	require.Equal(t, 80, clampScore(80))
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	p := &Processor{}
	_, err := p.Handle(context.Background(), &queue.Job{Payload: json.RawMessage(`not json`)})
	require.Error(t, err)
	require.Equal(t, orcherrors.Fatal, orcherrors.KindOf(err))
}

func TestProcessBatchReturnsEmptyForNoJobs(t *testing.T) {
	p := &Processor{}
	matches, errs := p.ProcessBatch(context.Background(), "run-1", "sub-1", "resume", "hash", nil, nil)
	require.Nil(t, matches)
	require.Nil(t, errs)
}
