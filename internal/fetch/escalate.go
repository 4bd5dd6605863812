package fetch

import (
	"context"

	"go.uber.org/zap"
)

// Escalating wraps a static fetcher with an optional headless renderer. When
// the detector flags the static body as a challenge or script-only page, the
// URL is re-fetched through the renderer; renderer failures fall back to the
// static response rather than failing the fetch.
type Escalating struct {
	static   Fetcher
	headless Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewEscalating builds the wrapper. headless and detector may be nil, in
// which case every fetch stays static.
func NewEscalating(static, headless Fetcher, detector Detector, logger *zap.Logger) *Escalating {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalating{
		static:   static,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch probes with the static fetcher and promotes to headless on demand.
func (e *Escalating) Fetch(ctx context.Context, req Request) (Response, error) {
	resp, err := e.static.Fetch(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := e.headless.Fetch(ctx, req)
	if err != nil {
		e.logger.Warn("headless promotion failed",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	rendered.UsedHeadless = true
	e.logger.Debug("headless promotion applied", zap.String("url", req.URL))
	return rendered, nil
}
