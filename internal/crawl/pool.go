package crawl

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"magharvest/internal/forum"
)

// DefaultWorkers is the pool width used when none is configured.
const DefaultWorkers = 5

// stopPollInterval bounds how long a jitter delay can outlive a stop request.
const stopPollInterval = time.Second

// CancelledMessage marks records fabricated for work items dropped after a
// stop was observed, distinguishing them from real fetch failures.
const CancelledMessage = "cancelled"

// IsCancelled reports whether rec is a drop marker rather than a fetch result.
func IsCancelled(rec forum.Record) bool {
	return !rec.Success && rec.Message == CancelledMessage
}

// PoolConfig sizes a Pool and shapes its politeness delays.
type PoolConfig struct {
	// Workers bounds concurrent fetches. Defaults to DefaultWorkers.
	Workers int
	// MinWait plus a random duration below RandomDelay is slept before each
	// dispatch, per worker, so fetches never hit the source in lockstep.
	MinWait     time.Duration
	RandomDelay time.Duration
	// ItemTimeout bounds one item's fetch. Zero means no per-item deadline.
	ItemTimeout time.Duration
}

// WorkFunc fetches one item. Implementations report per-item failures inside
// the returned record instead of aborting the pool.
type WorkFunc func(ctx context.Context, key string) forum.Record

// Pool fans fetch work out to a bounded set of workers. A Pool is stateless
// between calls and safe for concurrent use by multiple tasks.
type Pool struct {
	cfg    PoolConfig
	logger *zap.Logger
}

// NewPool builds a Pool, applying the default width when cfg leaves it unset.
func NewPool(cfg PoolConfig, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, logger: logger}
}

// FetchAll runs fn for every key with bounded parallelism and returns one
// record per key, in input order. stop is polled before each dispatch and
// during the jitter delay; once it reports true (or ctx ends), items not yet
// started come back as cancelled markers while in-flight items finish.
func (p *Pool) FetchAll(ctx context.Context, stop func() bool, keys []string, fn WorkFunc) []forum.Record {
	if len(keys) == 0 {
		return nil
	}
	if stop == nil {
		stop = func() bool { return false }
	}

	type item struct {
		idx int
		key string
	}
	feed := make(chan item, len(keys))
	for i, k := range keys {
		feed <- item{idx: i, key: k}
	}
	close(feed)

	results := make([]forum.Record, len(keys))
	workers := p.cfg.Workers
	if workers > len(keys) {
		workers = len(keys)
	}

	var wg sync.WaitGroup
	var dropped atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range feed {
				if !p.waitTurn(ctx, stop) {
					results[it.idx] = cancelledRecord(it.key)
					dropped.Add(1)
					continue
				}
				itemCtx := ctx
				cancel := func() {}
				if p.cfg.ItemTimeout > 0 {
					itemCtx, cancel = context.WithTimeout(ctx, p.cfg.ItemTimeout)
				}
				results[it.idx] = fn(itemCtx, it.key)
				cancel()
			}
		}()
	}
	wg.Wait()

	if n := dropped.Load(); n > 0 {
		p.logger.Debug("dropped unstarted fetch items", zap.Int64("dropped", n))
	}
	return results
}

// waitTurn applies the politeness jitter, returning false when the delay was
// interrupted by a stop request or context cancellation.
func (p *Pool) waitTurn(ctx context.Context, stop func() bool) bool {
	if stop() || ctx.Err() != nil {
		return false
	}
	remaining := p.cfg.MinWait + randomJitter(p.cfg.RandomDelay)
	for remaining > 0 {
		step := remaining
		if step > stopPollInterval {
			step = stopPollInterval
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= step
		if stop() {
			return false
		}
	}
	return true
}

func cancelledRecord(key string) forum.Record {
	return forum.Record{
		ThreadID:  forum.ThreadID(key),
		Message:   CancelledMessage,
		CrawledAt: time.Now().UTC(),
	}
}

// randomJitter draws a uniform duration in [0, limit).
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
