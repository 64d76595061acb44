package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/store"
)

func seedSubscription(t *testing.T, ctx context.Context, s *store.Store) *store.Subscription {
	t.Helper()
	u := seedUser(t, ctx, s)
	sub := &store.Subscription{
		UserID:    u.ID,
		JobTitles: store.JSONColumn[[]string]{Value: []string{"backend engineer"}},
		MinScore:  60,
	}
	require.NoError(t, s.Subscriptions.Create(ctx, sub))
	return sub
}

func TestRunOnlyOneRunningPerSubscription(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	sub := seedSubscription(t, ctx, s)

	run, err := s.Runs.Start(ctx, "", sub.ID, store.TriggerScheduled, "pod-1")
	require.NoError(t, err)
	require.Equal(t, store.RunStatusRunning, run.Status)

	_, err = s.Runs.Start(ctx, "", sub.ID, store.TriggerManual, "pod-1")
	require.Error(t, err, "unique partial index should reject a second running run for the same subscription")
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	sub := seedSubscription(t, ctx, s)

	run, err := s.Runs.Start(ctx, "", sub.ID, store.TriggerScheduled, "pod-1")
	require.NoError(t, err)

	require.NoError(t, s.Runs.SetStage(ctx, run.ID, store.StageCollection, 30, "collecting"))
	require.NoError(t, s.Runs.AddCounter(ctx, run.ID, "jobs_collected", 5))
	require.NoError(t, s.Runs.AddWarning(ctx, run.ID, "scraper timed out once"))

	// progress_percent must not regress when a later stage reports a lower value.
	require.NoError(t, s.Runs.SetStage(ctx, run.ID, store.StageCollection, 10, "retrying"))

	got, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 30, got.ProgressPercent)
	require.Equal(t, 5, got.JobsCollected)
	require.Len(t, got.Warnings.Value, 1)

	require.NoError(t, s.Runs.Complete(ctx, run.ID))

	finished, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusCompleted, finished.Status)
	require.Equal(t, 100, finished.ProgressPercent)
	require.NotNil(t, finished.CompletedAt)
	require.NotNil(t, finished.DurationMs)

	active, err := s.Runs.ListActive(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRunFailRecordsErrorContext(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	sub := seedSubscription(t, ctx, s)

	run, err := s.Runs.Start(ctx, "", sub.ID, store.TriggerScheduled, "pod-1")
	require.NoError(t, err)

	require.NoError(t, s.Runs.Fail(ctx, run.ID, store.StageMatching, "llm timed out",
		map[string]any{"attempts": 3}))

	got, err := s.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, store.RunStatusFailed, got.Status)
	require.Equal(t, store.StageMatching, *got.FailedStage)
	require.Equal(t, "llm timed out", *got.ErrorMessage)
	require.Equal(t, float64(3), got.ErrorContext.Value["attempts"])
}
