package kvstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelFlagLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	cancelled, err := c.IsCancelled(ctx, "run-1")
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, c.SetCancelled(ctx, "run-1"))

	cancelled, err = c.IsCancelled(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, c.ClearCancelled(ctx, "run-1"))

	cancelled, err = c.IsCancelled(ctx, "run-1")
	require.NoError(t, err)
	require.False(t, cancelled)
}
