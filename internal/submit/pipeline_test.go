package submit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"magharvest/internal/faults"
	"magharvest/internal/forum"
	"magharvest/internal/storage/memory"
)

func testMagnet(i int) string {
	return fmt.Sprintf("magnet:?xt=urn:btih:%040d", i)
}

func testMagnets(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = testMagnet(i)
	}
	return out
}

// fakeClient records calls and fails them according to the injected hooks.
type fakeClient struct {
	mu        sync.Mutex
	bulkCalls [][]string
	oneCalls  []string
	perMagnet map[string]int

	bulkErr func(call int) error
	oneErr  func(magnet string, attempt int) error
}

func (f *fakeClient) SubmitBulk(_ context.Context, magnets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, append([]string(nil), magnets...))
	if f.bulkErr != nil {
		return f.bulkErr(len(f.bulkCalls))
	}
	return nil
}

func (f *fakeClient) SubmitOne(_ context.Context, magnet string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneCalls = append(f.oneCalls, magnet)
	if f.perMagnet == nil {
		f.perMagnet = make(map[string]int)
	}
	f.perMagnet[magnet]++
	if f.oneErr != nil {
		return f.oneErr(magnet, f.perMagnet[magnet])
	}
	return nil
}

func (f *fakeClient) attempts(magnet string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perMagnet[magnet]
}

// countingWaiter stands in for the shared throttle and records how many
// outbound calls asked for pacing.
type countingWaiter struct {
	mu    sync.Mutex
	calls int
}

func (w *countingWaiter) Wait(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return nil
}

func (w *countingWaiter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func fastConfig() Config {
	return Config{
		TimeoutBackoff:   time.Millisecond,
		TransientBackoff: time.Millisecond,
	}
}

func primedDeduper(t *testing.T, scope Scope, history ...string) *Deduper {
	t.Helper()
	log := memory.NewSuccessLog()
	for _, key := range history {
		require.NoError(t, log.Append(context.Background(), key))
	}
	d := NewDeduper(scope, log)
	require.NoError(t, d.Load(context.Background()))
	return d
}

func TestSubmitChunksByBulkCap(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	waiter := &countingWaiter{}
	p := NewPipeline(client, primedDeduper(t, ScopeAll), waiter, fastConfig(), zap.NewNop())

	magnets := testMagnets(205)
	out, err := p.Submit(context.Background(), magnets)
	require.NoError(t, err)
	require.Equal(t, 205, out.Total)
	require.Equal(t, 205, out.Succeeded)
	require.Zero(t, out.Failed)

	require.Len(t, client.bulkCalls, 3)
	require.Len(t, client.bulkCalls[0], 100)
	require.Len(t, client.bulkCalls[1], 100)
	require.Len(t, client.bulkCalls[2], 5)

	// Every input appears in exactly one chunk.
	seen := map[string]int{}
	for _, chunk := range client.bulkCalls {
		for _, m := range chunk {
			seen[m]++
		}
	}
	require.Len(t, seen, 205)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}

	// Each bulk call passed through the throttle exactly once.
	require.Equal(t, 3, waiter.count())
}

func TestSubmitFlagsDuplicateWithinBatch(t *testing.T) {
	t.Parallel()

	a, b := testMagnet(1), testMagnet(2)
	client := &fakeClient{}
	p := NewPipeline(client, primedDeduper(t, ScopeCurrentBatchOnly), &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, a, b})
	require.NoError(t, err)
	require.Equal(t, 3, out.Total)
	require.Equal(t, 2, out.Succeeded, "a counts once, b counts once")
	require.Equal(t, 1, out.Duplicates, "the repeated a is a duplicate, not a failure")
	require.Zero(t, out.Failed)
	require.Equal(t, [][]string{{a, b}}, client.bulkCalls)
}

func TestSubmitSkipsHistoryInAllScope(t *testing.T) {
	t.Parallel()

	a, b := testMagnet(1), testMagnet(2)
	log := memory.NewSuccessLog()
	require.NoError(t, log.Append(context.Background(), a))
	d := NewDeduper(ScopeAll, log)
	require.NoError(t, d.Load(context.Background()))

	client := &fakeClient{}
	p := NewPipeline(client, d, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Equal(t, 1, out.Succeeded)
	require.Equal(t, 1, out.Duplicates)
	require.Equal(t, [][]string{{b}}, client.bulkCalls)

	// The new success is durably recorded for later runs.
	keys, err := log.All(context.Background())
	require.NoError(t, err)
	require.Contains(t, keys, b)
}

func TestSubmitWithoutDeduperKeepsRepeats(t *testing.T) {
	t.Parallel()

	a := testMagnet(1)
	client := &fakeClient{}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, a})
	require.NoError(t, err)
	require.Equal(t, 2, out.Succeeded)
	require.Zero(t, out.Duplicates)
	require.Equal(t, [][]string{{a, a}}, client.bulkCalls)
}

func TestSubmitDropsMalformedItems(t *testing.T) {
	t.Parallel()

	a := testMagnet(1)
	client := &fakeClient{}
	p := NewPipeline(client, primedDeduper(t, ScopeAll), &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{"", "http://example.com", "magnet:?dn=name-only", a})
	require.NoError(t, err)
	require.Equal(t, 4, out.Total)
	require.Equal(t, 3, out.Invalid)
	require.Equal(t, 1, out.Succeeded)
	require.Zero(t, out.Failed, "malformed items are skipped, not failed")
	require.Equal(t, [][]string{{a}}, client.bulkCalls)
}

func TestSubmitFallsBackToPerItem(t *testing.T) {
	t.Parallel()

	a, b, c := testMagnet(1), testMagnet(2), testMagnet(3)
	client := &fakeClient{
		bulkErr: func(int) error {
			return faults.New(faults.KindTransient, "bulk endpoint unavailable")
		},
		oneErr: func(magnet string, _ int) error {
			if magnet == b {
				return faults.New(faults.KindTransient, "connection reset")
			}
			return nil
		},
	}
	waiter := &countingWaiter{}
	p := NewPipeline(client, nil, waiter, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, b, c})
	require.NoError(t, err, "per-item failures are aggregated, not returned")
	require.Equal(t, 2, out.Succeeded)
	require.Equal(t, 1, out.Failed)
	require.Len(t, out.FailedDetails, 1)
	require.Equal(t, forum.MagnetDisplayName(b), out.FailedDetails[0].Name)
	require.Contains(t, out.FailedDetails[0].Err, "connection reset")

	require.Equal(t, 3, client.attempts(b), "first try plus two retries")
	require.Equal(t, 1, client.attempts(a))
	require.Equal(t, 1, client.attempts(c))
	// 1 bulk + 1 + 3 + 1 per-item attempts, each throttled.
	require.Equal(t, 6, waiter.count())
}

func TestSubmitRetriesTimeoutThenSucceeds(t *testing.T) {
	t.Parallel()

	a := testMagnet(1)
	client := &fakeClient{
		bulkErr: func(int) error {
			return faults.New(faults.KindTimeout, "bulk timed out")
		},
		oneErr: func(_ string, attempt int) error {
			if attempt < 3 {
				return faults.New(faults.KindTimeout, "timed out")
			}
			return nil
		},
	}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a})
	require.NoError(t, err)
	require.Equal(t, 1, out.Succeeded)
	require.Zero(t, out.Failed)
	require.Equal(t, 3, client.attempts(a))
}

func TestSubmitBulkAuthAbortsImmediately(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		bulkErr: func(call int) error {
			if call == 2 {
				return faults.New(faults.KindAuth, "account verification required")
			}
			return nil
		},
	}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), testMagnets(250))
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.KindAuth))
	require.Equal(t, 100, out.Succeeded, "first chunk completed before the abort")
	require.Len(t, client.bulkCalls, 2, "third chunk never attempted")
	require.Empty(t, client.oneCalls, "auth failures are not degraded to per-item")
}

func TestSubmitPerItemAuthAbortsRest(t *testing.T) {
	t.Parallel()

	a, b, c := testMagnet(1), testMagnet(2), testMagnet(3)
	client := &fakeClient{
		bulkErr: func(int) error {
			return faults.New(faults.KindTransient, "bulk endpoint unavailable")
		},
		oneErr: func(magnet string, _ int) error {
			if magnet == b {
				return faults.New(faults.KindAuth, "account verification required")
			}
			return nil
		},
	}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, b, c})
	require.True(t, faults.IsKind(err, faults.KindAuth))
	require.Equal(t, 1, out.Succeeded)
	require.Equal(t, 1, out.Failed, "the auth-blocked item was attempted and failed")
	require.Equal(t, 1, client.attempts(b), "auth responses are never retried")
	require.Zero(t, client.attempts(c), "remaining items are abandoned")
}

func TestSubmitSessionErrorNotRetried(t *testing.T) {
	t.Parallel()

	a, b := testMagnet(1), testMagnet(2)
	client := &fakeClient{
		bulkErr: func(int) error {
			return faults.New(faults.KindTransient, "bulk endpoint unavailable")
		},
		oneErr: func(magnet string, _ int) error {
			if magnet == a {
				return faults.New(faults.KindSession, "logged out")
			}
			return nil
		},
	}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(context.Background(), []string{a, b})
	require.NoError(t, err, "a dead session fails items but does not abort the run")
	require.Equal(t, 1, out.Failed)
	require.Equal(t, 1, out.Succeeded)
	require.Equal(t, 1, client.attempts(a), "session responses are never retried")
}

func TestSubmitCancelledItemsNotCountedFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b, c := testMagnet(1), testMagnet(2), testMagnet(3)
	client := &fakeClient{
		bulkErr: func(int) error {
			return faults.New(faults.KindTransient, "bulk endpoint unavailable")
		},
		oneErr: func(magnet string, _ int) error {
			if magnet == b {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	}
	p := NewPipeline(client, nil, &countingWaiter{}, fastConfig(), zap.NewNop())

	out, err := p.Submit(ctx, []string{a, b, c})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, out.Succeeded)
	require.Zero(t, out.Failed, "cancelled items are not failures")
	require.Zero(t, client.attempts(c), "unstarted items are dropped")
}
