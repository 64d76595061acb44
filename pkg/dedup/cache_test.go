package dedup_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/dedup"
)

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	c := dedup.New[string](time.Minute)

	var calls int32
	fn := func() ([]string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []string{"a", "b"}, nil
	}

	var wg sync.WaitGroup
	results := make([][]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Do("key-1", false, fn)
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, calls, "concurrent callers with the same key must coalesce into one execution")
	for _, res := range results {
		require.Equal(t, []string{"a", "b"}, res)
	}
}

func TestDoReturnsIndependentCopies(t *testing.T) {
	c := dedup.New[string](time.Minute)

	res1, err := c.Do("key-1", false, func() ([]string, error) {
		return []string{"a", "b"}, nil
	})
	require.NoError(t, err)

	res2, err := c.Do("key-1", false, func() ([]string, error) {
		t.Fatal("fresh entry should not re-execute fn")
		return nil, nil
	})
	require.NoError(t, err)

	res1[0] = "mutated"
	require.Equal(t, "a", res2[0], "callers must receive independent copies of the cached result")
}

func TestDoRemovesEntryOnFailureAllowingRetry(t *testing.T) {
	c := dedup.New[string](time.Minute)

	var calls int32
	fn := func() ([]string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, errors.New("boom")
		}
		return []string{"ok"}, nil
	}

	_, err := c.Do("key-1", false, fn)
	require.Error(t, err)

	res, err := c.Do("key-1", false, fn)
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, res)
	require.EqualValues(t, 2, calls)
}

func TestDoSkipCacheAlwaysExecutes(t *testing.T) {
	c := dedup.New[string](time.Minute)

	var calls int32
	fn := func() ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"x"}, nil
	}

	_, err := c.Do("key-1", true, fn)
	require.NoError(t, err)
	_, err = c.Do("key-1", true, fn)
	require.NoError(t, err)

	require.EqualValues(t, 2, calls)
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	c := dedup.New[string](10 * time.Millisecond)

	_, err := c.Do("key-1", false, func() ([]string, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	time.Sleep(20 * time.Millisecond)
	c.Sweep()
	require.Equal(t, 0, c.Len())
}

func TestKeyIsStableUnderParamOrder(t *testing.T) {
	k1 := dedup.Key(map[string]string{"title": "engineer", "location": "remote"})
	k2 := dedup.Key(map[string]string{"location": "remote", "title": "engineer"})
	require.Equal(t, k1, k2)
	require.Len(t, k1, 16)
}

func TestKeyDiffersForDifferentParams(t *testing.T) {
	k1 := dedup.Key(map[string]string{"title": "engineer"})
	k2 := dedup.Key(map[string]string{"title": "manager"})
	require.NotEqual(t, k1, k2)
}
