// Package crawl implements the crawl task engine: a bounded worker pool for
// polite page fetches and the orchestrator that sequences discovery, watermark
// diffing, thread fetching and magnet submission for each task mode.
//
// The orchestrator goroutine is the sole writer of its task's state. Stop
// requests are honored cooperatively: the flag is polled at every phase start
// and before each unit of work, in-flight fetches finish on their own.
package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"magharvest/internal/faults"
	"magharvest/internal/fetch"
	"magharvest/internal/forum"
	"magharvest/internal/progress"
	"magharvest/internal/storage"
	"magharvest/internal/task"
)

// errStopped is the terminal error for operator-cancelled tasks. Its text
// becomes the task's failure message.
var errStopped = errors.New("stopped by operator")

// Config is the crawl policy read once at construction. Mutable run state
// (watermarks, resume pages, known sets) lives in the state store.
type Config struct {
	BaseURL        string
	Sections       []forum.Section
	MaxPagesPerRun int
}

// Deps bundles the collaborators an Orchestrator drives. Submitter, Results
// and Events are optional; a nil value disables that phase.
type Deps struct {
	State     storage.StateStore
	Fetcher   fetch.Fetcher
	Discovery *Pool
	Threads   *Pool
	Submitter Submitter
	Results   ResultSink
	Events    progress.Emitter
	Clock     Clock
	Logger    *zap.Logger
}

// Orchestrator runs crawl tasks to a terminal state.
type Orchestrator struct {
	cfg       Config
	state     storage.StateStore
	fetcher   fetch.Fetcher
	discovery *Pool
	threads   *Pool
	submitter Submitter
	results   ResultSink
	events    progress.Emitter
	clock     Clock
	logger    *zap.Logger
}

// NewOrchestrator validates the required collaborators and builds an
// Orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.State == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Discovery == nil || deps.Threads == nil {
		return nil, errors.New("discovery and thread pools are required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.MaxPagesPerRun <= 0 {
		return nil, errors.New("max pages per run must be > 0")
	}
	events := deps.Events
	if events == nil {
		events = progress.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		state:     deps.State,
		fetcher:   deps.Fetcher,
		discovery: deps.Discovery,
		threads:   deps.Threads,
		submitter: deps.Submitter,
		results:   deps.Results,
		events:    events,
		clock:     deps.Clock,
		logger:    logger.Named("crawl"),
	}, nil
}

// Run executes the task to completion. It is the only goroutine mutating the
// task while it runs; callers typically invoke it as `go orch.Run(ctx, t)`.
func (o *Orchestrator) Run(ctx context.Context, t *task.Task) {
	start := o.clock.Now()
	t.MarkRunning(start)
	o.events.Emit(progress.Event{
		TaskID:  t.ID(),
		TS:      start,
		Stage:   progress.StageTaskStart,
		Mode:    string(t.Mode()),
		Message: "task started",
	})
	o.logger.Info("crawl task started",
		zap.String("task", t.ID()),
		zap.String("mode", string(t.Mode())))

	var res task.Result
	var err error
	switch t.Mode() {
	case task.ModeDiscoverOnly:
		res, err = o.runDiscover(ctx, t)
	case task.ModeFullSubmit:
		res, err = o.runSubmitAll(ctx, t)
	case task.ModeIncremental:
		res, err = o.runIncremental(ctx, t)
	default:
		err = faults.Newf(faults.KindValidation, "unknown crawl mode %q", t.Mode())
	}

	end := o.clock.Now()
	if err != nil {
		o.logger.Warn("crawl task failed",
			zap.String("task", t.ID()),
			zap.String("mode", string(t.Mode())),
			zap.Error(err))
		t.Fail(end, err.Error())
		o.events.Emit(progress.Event{
			TaskID:  t.ID(),
			TS:      end,
			Stage:   progress.StageTaskError,
			Mode:    string(t.Mode()),
			Message: err.Error(),
			Failed:  res.Failed,
			Dur:     end.Sub(start),
		})
		return
	}

	msg := fmt.Sprintf("processed %d sections, %d threads, submitted %d magnets",
		res.Sections, res.Threads, res.Submitted)
	t.Succeed(end, res, msg)
	o.logger.Info("crawl task finished",
		zap.String("task", t.ID()),
		zap.String("mode", string(t.Mode())),
		zap.Int64("threads", res.Threads),
		zap.Int64("magnets", res.Magnets),
		zap.Int64("submitted", res.Submitted),
		zap.Duration("dur", end.Sub(start)))
	o.events.Emit(progress.Event{
		TaskID:  t.ID(),
		TS:      end,
		Stage:   progress.StageTaskDone,
		Mode:    string(t.Mode()),
		Message: msg,
		Threads: res.Threads,
		Magnets: res.Submitted,
		Failed:  res.Failed,
		Dur:     end.Sub(start),
	})
}

// setProgress publishes percent/message on the task and mirrors it to the
// hub. Both sides drop updates once a stop has been requested.
func (o *Orchestrator) setProgress(t *task.Task, percent int, message string) {
	t.SetProgress(percent, message)
	if t.Stopping() {
		return
	}
	o.events.Emit(progress.Event{
		TaskID:  t.ID(),
		TS:      o.clock.Now(),
		Stage:   progress.StageTaskProgress,
		Mode:    string(t.Mode()),
		Percent: percent,
		Message: message,
	})
}
