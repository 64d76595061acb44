package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/store"
)

func seedJobMatch(t *testing.T, ctx context.Context, s *store.Store) *store.JobMatch {
	t.Helper()
	job := &store.Job{
		ContentHash: uuid.NewString(),
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Build things.",
		Source:      "serpapi",
		LastSeenAt:  time.Now(),
	}
	require.NoError(t, s.Jobs.Upsert(ctx, job))

	match, err := s.JobMatches.Upsert(ctx, &store.JobMatch{
		JobID:      job.ContentHash,
		ResumeHash: "abc123",
		Score:      75,
	})
	require.NoError(t, err)
	return match
}

func TestNotificationAtMostOnce(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	sub := seedSubscription(t, ctx, s)
	match := seedJobMatch(t, ctx, s)

	first, err := s.Notifications.TryRecord(ctx, sub.ID, match.ID)
	require.NoError(t, err)
	require.True(t, first, "first record should succeed")

	second, err := s.Notifications.TryRecord(ctx, sub.ID, match.ID)
	require.NoError(t, err)
	require.False(t, second, "second record for the same pair must be a no-op")

	sent, err := s.Notifications.AlreadySentForSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, sent[match.ID])
	require.Len(t, sent, 1)
}

func TestJobMatchUpsertIsRescoring(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	match := seedJobMatch(t, ctx, s)

	rescored, err := s.JobMatches.Upsert(ctx, &store.JobMatch{
		JobID:      match.JobID,
		ResumeHash: match.ResumeHash,
		Score:      90,
		Reasoning:  "stronger fit on re-score",
	})
	require.NoError(t, err)
	require.Equal(t, match.ID, rescored.ID, "re-scoring the same (job, resume) pair must upsert, not duplicate")
	require.Equal(t, 90, rescored.Score)
}
