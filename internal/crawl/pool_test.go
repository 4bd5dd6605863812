package crawl

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"magharvest/internal/forum"
)

func succeedFn(calls *atomic.Int64) WorkFunc {
	return func(_ context.Context, key string) forum.Record {
		calls.Add(1)
		return forum.Record{ThreadID: forum.ThreadID(key), Success: true, Message: "ok"}
	}
}

func TestFetchAllReturnsRecordsInInputOrder(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 4}, zap.NewNop())
	keys := []string{"9", "5", "3", "8", "1", "7"}

	var calls atomic.Int64
	records := pool.FetchAll(context.Background(), nil, keys, succeedFn(&calls))

	require.Len(t, records, len(keys))
	require.EqualValues(t, len(keys), calls.Load())
	for i, key := range keys {
		require.Equal(t, forum.ThreadID(key), records[i].ThreadID)
		require.True(t, records[i].Success)
	}
}

func TestFetchAllBoundsParallelism(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 3}, zap.NewNop())
	keys := make([]string, 24)
	for i := range keys {
		keys[i] = strconv.Itoa(i)
	}

	var inFlight, peak atomic.Int64
	records := pool.FetchAll(context.Background(), nil, keys, func(_ context.Context, key string) forum.Record {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return forum.Record{ThreadID: forum.ThreadID(key), Success: true}
	})

	require.Len(t, records, len(keys))
	require.Positive(t, peak.Load())
	require.LessOrEqual(t, peak.Load(), int64(3))
}

func TestFetchAllStopDropsUnstartedItems(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 1}, zap.NewNop())
	keys := []string{"11", "12", "13", "14"}

	var stopped atomic.Bool
	var calls atomic.Int64
	records := pool.FetchAll(context.Background(), stopped.Load, keys, func(_ context.Context, key string) forum.Record {
		calls.Add(1)
		stopped.Store(true)
		return forum.Record{ThreadID: forum.ThreadID(key), Success: true}
	})

	require.EqualValues(t, 1, calls.Load())
	require.Len(t, records, len(keys))
	require.True(t, records[0].Success)
	for i := 1; i < len(records); i++ {
		require.True(t, IsCancelled(records[i]), "item %d should be a cancelled marker", i)
		require.Equal(t, forum.ThreadID(keys[i]), records[i].ThreadID)
	}
}

func TestFetchAllPreCancelledContextRunsNothing(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 2}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	records := pool.FetchAll(ctx, nil, []string{"1", "2", "3"}, succeedFn(&calls))

	require.Zero(t, calls.Load())
	require.Len(t, records, 3)
	for _, rec := range records {
		require.True(t, IsCancelled(rec))
	}
}

func TestFetchAllCancelInterruptsJitter(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 1, MinWait: 5 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var calls atomic.Int64
	start := time.Now()
	records := pool.FetchAll(ctx, nil, []string{"1"}, succeedFn(&calls))

	require.Less(t, time.Since(start), 2*time.Second)
	require.Zero(t, calls.Load())
	require.Len(t, records, 1)
	require.True(t, IsCancelled(records[0]))
}

func TestFetchAllAppliesItemTimeout(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{Workers: 1, ItemTimeout: 30 * time.Millisecond}, zap.NewNop())

	records := pool.FetchAll(context.Background(), nil, []string{"42"}, func(ctx context.Context, key string) forum.Record {
		select {
		case <-ctx.Done():
			return forum.Record{ThreadID: forum.ThreadID(key), Message: ctx.Err().Error()}
		case <-time.After(2 * time.Second):
			return forum.Record{ThreadID: forum.ThreadID(key), Success: true}
		}
	})

	require.Len(t, records, 1)
	require.False(t, records[0].Success)
	require.Contains(t, records[0].Message, "deadline")
}

func TestFetchAllEmptyKeys(t *testing.T) {
	t.Parallel()

	pool := NewPool(PoolConfig{}, nil)

	var calls atomic.Int64
	require.Nil(t, pool.FetchAll(context.Background(), nil, nil, succeedFn(&calls)))
	require.Zero(t, calls.Load())
}

func TestRandomJitterStaysBelowLimit(t *testing.T) {
	t.Parallel()

	require.Zero(t, randomJitter(0))
	require.Zero(t, randomJitter(-time.Second))

	limit := 50 * time.Millisecond
	for i := 0; i < 200; i++ {
		j := randomJitter(limit)
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.Less(t, j, limit)
	}
}
