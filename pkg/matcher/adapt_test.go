package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdaptRateLimitHalvesBatchAndDoublesDelay(t *testing.T) {
	s := newAdaptState()
	s.apply(sliceOutcome{rateLimited: true})
	require.Equal(t, 5, s.batchSize)
	require.Equal(t, 2000, s.delayMs)
}

func TestAdaptRateLimitDelayFloorBeforeDoubling(t *testing.T) {
	s := newAdaptState()
	s.delayMs = 100
	s.apply(sliceOutcome{rateLimited: true})
	require.Equal(t, 2000, s.delayMs, "delay floor of 1000ms applies before doubling")
}

func TestAdaptProviderErrorShrinksBySeventyPercent(t *testing.T) {
	s := newAdaptState()
	s.apply(sliceOutcome{providerError: true})
	require.Equal(t, 7, s.batchSize) // floor(10*0.7)
	require.Equal(t, 750, s.delayMs) // floor(500)*1.5
}

func TestAdaptThreeConsecutiveErrorSlicesTriggersCooldown(t *testing.T) {
	s := newAdaptState()
	s.apply(sliceOutcome{providerError: true}) // 1st error: 10 -> 7
	s.apply(sliceOutcome{providerError: true}) // 2nd error: 7 -> 4 (floor(7*0.7))
	s.apply(sliceOutcome{providerError: true}) // 3rd error: cooldown kicks in
	require.Equal(t, 5000, s.delayMs)
	require.Equal(t, 2, s.batchSize) // floor(4/2)
}

func TestAdaptGrowsAfterTwoConsecutiveSuccessSlices(t *testing.T) {
	s := newAdaptState()
	s.delayMs = 1000
	s.apply(sliceOutcome{allSuccess: true})
	require.Equal(t, 10, s.batchSize, "batch size unchanged after only 1 success slice")
	s.apply(sliceOutcome{allSuccess: true})
	require.Equal(t, 15, s.batchSize) // floor(10*1.5)
	require.Equal(t, 500, s.delayMs)  // floor(1000*0.5)
}

func TestAdaptUnclassifiedErrorShrinksByTenPercent(t *testing.T) {
	s := newAdaptState()
	s.apply(sliceOutcome{unclassifiedError: true})
	require.Equal(t, 9, s.batchSize) // floor(10*0.9)
}

func TestAdaptBatchSizeNeverDropsBelowOne(t *testing.T) {
	s := newAdaptState()
	s.batchSize = 1
	s.apply(sliceOutcome{rateLimited: true})
	require.Equal(t, 1, s.batchSize)
}

func TestAdaptSuccessAfterErrorsResetsConsecutiveErrorCount(t *testing.T) {
	s := newAdaptState()
	s.apply(sliceOutcome{providerError: true})
	s.apply(sliceOutcome{allSuccess: true})
	require.Equal(t, 0, s.consecutiveErrorSlices)
}
