// Package app owns the shared crawl admission path: minting a task id,
// admitting the task into the registry and launching its run. The HTTP API
// and the scheduler both start crawls through it, so the capacity ceiling
// and mode validation are enforced in exactly one place.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"magharvest/internal/task"
)

// Runner executes a registered task to completion. The crawl orchestrator is
// the production implementation.
type Runner interface {
	Run(ctx context.Context, t *task.Task)
}

// Config tunes the Service.
type Config struct {
	// BaseContext is the parent context for launched runs; cancelling it asks
	// every running crawl to wind down. Defaults to context.Background().
	BaseContext context.Context
}

// Service starts, stops and queries crawl tasks.
type Service struct {
	manager *task.Manager
	runner  Runner
	ids     task.IDGenerator
	clock   task.Clock
	logger  *zap.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New validates the dependencies and builds a Service.
func New(cfg Config, manager *task.Manager, runner Runner, ids task.IDGenerator, clk task.Clock, logger *zap.Logger) (*Service, error) {
	if manager == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		manager: manager,
		runner:  runner,
		ids:     ids,
		clock:   clk,
		logger:  logger.Named("app"),
		baseCtx: cfg.BaseContext,
	}, nil
}

// StartCrawl registers a new task for the mode and launches its run. It
// returns a validation fault for an unknown mode and a capacity fault when
// the registry is at its ceiling; in both cases no task is created.
func (s *Service) StartCrawl(mode task.Mode) (task.Snapshot, error) {
	if _, err := task.ParseMode(string(mode)); err != nil {
		return task.Snapshot{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("generate task id: %w", err)
	}
	t := task.New(id, mode, s.clock.Now())
	if err := s.manager.Register(t); err != nil {
		return task.Snapshot{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(s.baseCtx, t)
	}()
	s.logger.Info("crawl task launched",
		zap.String("task", id),
		zap.String("mode", string(mode)))
	return t.Snapshot(), nil
}

// StopCrawl requests a cooperative stop. Stopping an already terminal task
// is a no-op that still returns its snapshot.
func (s *Service) StopCrawl(id string) (task.Snapshot, error) {
	t, err := s.manager.Get(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	t.RequestStop()
	s.logger.Info("stop requested", zap.String("task", id))
	return t.Snapshot(), nil
}

// Task returns one task's snapshot, or task.ErrNotFound.
func (s *Service) Task(id string) (task.Snapshot, error) {
	t, err := s.manager.Get(id)
	if err != nil {
		return task.Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Tasks returns snapshots of every registered task, newest first.
func (s *Service) Tasks() []task.Snapshot {
	return s.manager.List()
}

// Drain blocks until every launched run has returned or ctx expires. Called
// during shutdown after cancelling the base context.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain crawl runs: %w", ctx.Err())
	}
}
