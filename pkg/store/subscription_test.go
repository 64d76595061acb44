package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/store"
)

func seedUser(t *testing.T, ctx context.Context, s *store.Store) *store.User {
	t.Helper()
	u, err := s.Users.GetOrCreate(ctx, "chat-"+t.Name(), "tester")
	require.NoError(t, err)
	return u
}

func TestSubscriptionListDue(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	u := seedUser(t, ctx, s)

	due := &store.Subscription{
		UserID:    u.ID,
		JobTitles: store.JSONColumn[[]string]{Value: []string{"backend engineer"}},
		MinScore:  60,
		IsActive:  true,
		NextRunAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.Subscriptions.Create(ctx, due))

	notYetDue := &store.Subscription{
		UserID:    u.ID,
		JobTitles: store.JSONColumn[[]string]{Value: []string{"staff engineer"}},
		MinScore:  60,
		IsActive:  true,
		NextRunAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.Subscriptions.Create(ctx, notYetDue))

	paused := &store.Subscription{
		UserID:    u.ID,
		JobTitles: store.JSONColumn[[]string]{Value: []string{"principal engineer"}},
		MinScore:  60,
		IsActive:  true,
		IsPaused:  true,
		NextRunAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.Subscriptions.Create(ctx, paused))

	results, err := s.Subscriptions.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, due.ID, results[0].ID)
}

func TestSubscriptionRescheduleAfterRun(t *testing.T) {
	ctx := context.Background()
	s := store.New(newTestStore(t))
	u := seedUser(t, ctx, s)

	sub := &store.Subscription{
		UserID:    u.ID,
		JobTitles: store.JSONColumn[[]string]{Value: []string{"backend engineer"}},
		MinScore:  60,
	}
	require.NoError(t, s.Subscriptions.Create(ctx, sub))

	now := time.Now()
	require.NoError(t, s.Subscriptions.RescheduleAfterRun(ctx, sub.ID, time.Hour, now))

	got, err := s.Subscriptions.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), got.NextRunAt, time.Second)
	require.NotNil(t, got.LastSearchAt)
}

func TestSubscriptionEligible(t *testing.T) {
	active := &store.Subscription{IsActive: true, IsPaused: false}
	require.True(t, active.Eligible())

	paused := &store.Subscription{IsActive: true, IsPaused: true}
	require.False(t, paused.Eligible())

	inactive := &store.Subscription{IsActive: false}
	require.False(t, inactive.Eligible())
}
