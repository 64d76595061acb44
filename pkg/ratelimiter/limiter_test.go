package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/config"
	"github.com/nthiel/jobwatch/pkg/ratelimiter"
)

func testConfig() *config.RateLimiterConfig {
	return &config.RateLimiterConfig{
		Default: config.SourceLimitConfig{
			BaseDelay:     10 * time.Millisecond,
			MaxDelay:      200 * time.Millisecond,
			CooldownAfter: 3,
			CooldownFor:   50 * time.Millisecond,
		},
		Sources: map[string]config.SourceLimitConfig{},
	}
}

func TestWaitForSlotPacesRequests(t *testing.T) {
	l := ratelimiter.New(testConfig())
	ctx := context.Background()

	_, err := l.WaitForSlot(ctx, "linkedin")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.WaitForSlot(ctx, "linkedin")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 8*time.Millisecond)
}

func TestRecord429DoublesDelayAndCapsAtMax(t *testing.T) {
	l := ratelimiter.New(testConfig())

	l.Record429("indeed")
	s := l.Snapshot("indeed")
	require.Equal(t, 20*time.Millisecond, s.CurrentDelay)
	require.Equal(t, 1, s.Consecutive429)

	l.Record429("indeed")
	s = l.Snapshot("indeed")
	require.Equal(t, 40*time.Millisecond, s.CurrentDelay)

	for i := 0; i < 10; i++ {
		l.Record429("indeed")
	}
	s = l.Snapshot("indeed")
	require.LessOrEqual(t, s.CurrentDelay, 200*time.Millisecond)
}

func TestRecord429OpensCooldownAfterThreshold(t *testing.T) {
	l := ratelimiter.New(testConfig())

	l.Record429("serpapi")
	require.False(t, l.Snapshot("serpapi").InCooldown)

	l.Record429("serpapi")
	require.False(t, l.Snapshot("serpapi").InCooldown)

	l.Record429("serpapi")
	require.True(t, l.Snapshot("serpapi").InCooldown)
}

func TestRecordSuccessDecaysDelayAfterThreeConsecutive(t *testing.T) {
	l := ratelimiter.New(testConfig())

	l.Record429("linkedin")
	before := l.Snapshot("linkedin").CurrentDelay
	require.Equal(t, 20*time.Millisecond, before)

	l.RecordSuccess("linkedin")
	l.RecordSuccess("linkedin")
	require.Equal(t, before, l.Snapshot("linkedin").CurrentDelay, "decay only triggers on the Nth success")

	l.RecordSuccess("linkedin")
	after := l.Snapshot("linkedin").CurrentDelay
	require.Less(t, after, before)
}

func TestRecordSuccessResetsConsecutive429(t *testing.T) {
	l := ratelimiter.New(testConfig())

	l.Record429("indeed")
	l.Record429("indeed")
	require.Equal(t, 2, l.Snapshot("indeed").Consecutive429)

	l.RecordSuccess("indeed")
	require.Equal(t, 0, l.Snapshot("indeed").Consecutive429)
}

func TestWaitForSlotRespectsCooldown(t *testing.T) {
	l := ratelimiter.New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Record429("serpapi")
	}
	require.True(t, l.Snapshot("serpapi").InCooldown)

	start := time.Now()
	_, err := l.WaitForSlot(ctx, "serpapi")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitForSlotHonorsContextCancellation(t *testing.T) {
	l := ratelimiter.New(testConfig())

	for i := 0; i < 3; i++ {
		l.Record429("serpapi")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := l.WaitForSlot(ctx, "serpapi")
	require.Error(t, err)
}
