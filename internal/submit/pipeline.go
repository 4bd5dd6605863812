package submit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"magharvest/internal/faults"
	"magharvest/internal/forum"
)

const (
	// DefaultMaxRetries bounds per-item re-attempts after the first try.
	DefaultMaxRetries = 2
	// DefaultTimeoutBackoff is the fixed wait before retrying a timed-out
	// item.
	DefaultTimeoutBackoff = 3 * time.Second
	// DefaultTransientBackoff is the fixed wait before retrying after a
	// non-timeout network fault.
	DefaultTransientBackoff = 2 * time.Second
)

// Config tunes the pipeline. Zero values fall back to the defaults above and
// to BulkCap for BatchSize.
type Config struct {
	BatchSize        int
	MaxRetries       int
	TimeoutBackoff   time.Duration
	TransientBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 || c.BatchSize > BulkCap {
		c.BatchSize = BulkCap
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.TimeoutBackoff <= 0 {
		c.TimeoutBackoff = DefaultTimeoutBackoff
	}
	if c.TransientBackoff <= 0 {
		c.TransientBackoff = DefaultTransientBackoff
	}
	return c
}

// Waiter paces outbound downstream calls. Production wiring passes the
// shared ratelimit.Throttle so bulk and per-item calls from all chunks keep
// one global gap.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pipeline drives one run's submissions. All outbound calls, bulk and
// per-item alike, pass through the shared throttle first.
type Pipeline struct {
	client   Client
	deduper  *Deduper
	throttle Waiter
	cfg      Config
	logger   *zap.Logger
}

// NewPipeline builds a pipeline. A nil deduper disables duplicate filtering
// entirely; repeats in the input are then submitted as-is.
func NewPipeline(client Client, deduper *Deduper, throttle Waiter, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		client:   client,
		deduper:  deduper,
		throttle: throttle,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Submit validates, dedups, chunks and pushes the given magnets. The outcome
// covers everything attempted; a non-nil error means the invocation aborted
// early, either from context cancellation or an account-level auth demand,
// and the outcome holds whatever completed before the abort. Per-item
// failures never abort: they are aggregated into the outcome.
func (p *Pipeline) Submit(ctx context.Context, magnets []string) (Outcome, error) {
	out := Outcome{Total: len(magnets)}
	queue := p.filter(magnets, &out)
	if len(queue) == 0 {
		p.logger.Info("nothing to submit",
			zap.Int("total", out.Total),
			zap.Int("invalid", out.Invalid),
			zap.Int("duplicates", out.Duplicates))
		return out, nil
	}

	chunks := chunkMagnets(queue, p.cfg.BatchSize)
	p.logger.Info("starting submission",
		zap.Int("items", len(queue)),
		zap.Int("chunks", len(chunks)),
		zap.Int("invalid", out.Invalid),
		zap.Int("duplicates", out.Duplicates))

	for i, chunk := range chunks {
		if err := p.submitChunk(ctx, chunk, &out); err != nil {
			p.logger.Warn("submission aborted",
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Error(err))
			return out, err
		}
	}

	p.logger.Info("submission finished",
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.Int("duplicates", out.Duplicates),
		zap.Int("invalid", out.Invalid))
	return out, nil
}

// filter applies the shape check and dedup, returning the normalized queue.
// Dedup catches both repeats within the input and, when the deduper is
// primed with history, previously submitted magnets.
func (p *Pipeline) filter(magnets []string, out *Outcome) []string {
	queue := make([]string, 0, len(magnets))
	var seen map[string]struct{}
	if p.deduper != nil {
		seen = make(map[string]struct{}, len(magnets))
	}
	for _, raw := range magnets {
		key := normalizeKey(raw)
		if !forum.ValidMagnet(key) {
			out.Invalid++
			p.logger.Debug("dropping malformed magnet", zap.String("item", forum.MagnetDisplayName(raw)))
			continue
		}
		if p.deduper != nil {
			if _, dup := seen[key]; dup || p.deduper.IsKnown(key) {
				out.Duplicates++
				continue
			}
			seen[key] = struct{}{}
		}
		queue = append(queue, key)
	}
	return queue
}

// submitChunk tries the chunk as one bulk call and degrades to per-item on
// failure. Auth demands are not degraded: they abort immediately since no
// further call can succeed until an operator intervenes.
func (p *Pipeline) submitChunk(ctx context.Context, chunk []string, out *Outcome) error {
	if err := p.throttle.Wait(ctx); err != nil {
		return err
	}
	err := p.client.SubmitBulk(ctx, chunk)
	if err == nil {
		p.markAll(ctx, chunk)
		out.Succeeded += len(chunk)
		p.logger.Debug("bulk chunk accepted", zap.Int("items", len(chunk)))
		return nil
	}
	if errors.Is(err, context.Canceled) || faults.IsKind(err, faults.KindAuth) {
		return err
	}
	p.logger.Warn("bulk submission failed, degrading to per-item",
		zap.Int("items", len(chunk)),
		zap.Error(err))
	return p.submitIndividually(ctx, chunk, out)
}

func (p *Pipeline) submitIndividually(ctx context.Context, chunk []string, out *Outcome) error {
	for _, magnet := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.submitOne(ctx, magnet)
		if err == nil {
			p.markAll(ctx, []string{magnet})
			out.Succeeded++
			continue
		}
		if errors.Is(err, context.Canceled) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
			// Cancelled, not failed: the item never got a full attempt.
			return err
		}
		out.Failed++
		out.FailedDetails = append(out.FailedDetails, FailureDetail{
			Name: forum.MagnetDisplayName(magnet),
			Err:  err.Error(),
		})
		if faults.IsKind(err, faults.KindAuth) {
			return err
		}
		p.logger.Warn("magnet submission failed",
			zap.String("item", forum.MagnetDisplayName(magnet)),
			zap.String("kind", faults.KindOf(err).String()),
			zap.Error(err))
	}
	return nil
}

// submitOne pushes a single magnet with bounded retries. Only timeouts and
// transient network faults are retried; session and auth responses return
// immediately because the shared credentials are the problem, not the item.
func (p *Pipeline) submitOne(ctx context.Context, magnet string) error {
	var err error
	for attempt := 0; ; attempt++ {
		if werr := p.throttle.Wait(ctx); werr != nil {
			return werr
		}
		err = p.client.SubmitOne(ctx, magnet)
		if err == nil {
			return nil
		}
		kind := faults.KindOf(err)
		if attempt >= p.cfg.MaxRetries || !kind.Retryable() {
			return err
		}
		backoff := p.cfg.TransientBackoff
		if kind == faults.KindTimeout {
			backoff = p.cfg.TimeoutBackoff
		}
		p.logger.Debug("retrying magnet submission",
			zap.String("item", forum.MagnetDisplayName(magnet)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))
		if serr := sleepCtx(ctx, backoff); serr != nil {
			return serr
		}
	}
}

// markAll records confirmed submissions. A failed append is logged and
// swallowed: the item did reach the downstream, so the run must not treat it
// as failed just because the local record lagged.
func (p *Pipeline) markAll(ctx context.Context, magnets []string) {
	if p.deduper == nil {
		return
	}
	for _, m := range magnets {
		if err := p.deduper.MarkSuccess(ctx, m); err != nil {
			p.logger.Warn("recording submitted magnet failed",
				zap.String("item", forum.MagnetDisplayName(m)),
				zap.Error(err))
		}
	}
}

func chunkMagnets(items []string, size int) [][]string {
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
