// Package sched drives recurring crawls from a cron expression. Updates are
// validated before they swap in, so a bad spec never displaces a working
// schedule, and fires that land while the task registry is full are skipped
// rather than queued.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"magharvest/internal/faults"
	"magharvest/internal/task"
)

// StartFunc enqueues one crawl run through the same admission path the API
// uses. A capacity fault is the expected answer when the registry is full.
type StartFunc func(mode task.Mode) (task.Snapshot, error)

// Schedule is the observable state of the recurring crawl.
type Schedule struct {
	Cron    string
	Mode    string
	Enabled bool
	// NextRun is the next fire time, populated once the runner is started.
	NextRun time.Time
}

// Scheduler owns a single cron entry that triggers crawls.
type Scheduler struct {
	cron   *cron.Cron
	start  StartFunc
	logger *zap.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	spec    string
	mode    task.Mode
	enabled bool
}

// New builds a stopped Scheduler with no schedule set. Call Update to install
// one and Start to begin firing.
func New(start StartFunc, logger *zap.Logger) (*Scheduler, error) {
	if start == nil {
		return nil, fmt.Errorf("start func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sched")
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}))),
		start:  start,
		logger: logger,
	}, nil
}

// Start launches the cron runner. Safe to call before any schedule is set.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight fire to finish, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop wait: %w", ctx.Err())
	}
}

// Update replaces the schedule. Everything is validated before any state
// changes, so an invalid spec or mode returns a config fault and leaves the
// previous entry running. Disabling removes the entry; spec and mode are
// still validated when present so typos surface immediately.
func (s *Scheduler) Update(spec, mode string, enabled bool) error {
	var schedule cron.Schedule
	var parsedMode task.Mode
	if enabled && spec == "" {
		return faults.New(faults.KindConfig, "cron spec is required when the schedule is enabled")
	}
	if spec != "" {
		var err error
		schedule, err = cron.ParseStandard(spec)
		if err != nil {
			return faults.Newf(faults.KindConfig, "invalid cron spec %q: %v", spec, err)
		}
	}
	if enabled && mode == "" {
		return faults.New(faults.KindConfig, "crawl mode is required when the schedule is enabled")
	}
	if mode != "" {
		var err error
		parsedMode, err = task.ParseMode(mode)
		if err != nil {
			return faults.Newf(faults.KindConfig, "invalid schedule mode %q", mode)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	s.spec = spec
	s.mode = parsedMode
	s.enabled = enabled
	if !enabled {
		s.logger.Info("schedule disabled")
		return nil
	}
	s.entryID = s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	s.logger.Info("schedule updated",
		zap.String("cron", spec),
		zap.String("mode", mode))
	return nil
}

// Current returns the schedule as last set. NextRun stays zero until the
// runner is started.
func (s *Scheduler) Current() Schedule {
	s.mu.Lock()
	out := Schedule{Cron: s.spec, Mode: string(s.mode), Enabled: s.enabled}
	id := s.entryID
	s.mu.Unlock()
	if out.Enabled && id != 0 {
		if e := s.cron.Entry(id); e.ID == id {
			out.NextRun = e.Next
		}
	}
	return out
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	mode := s.mode
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return
	}
	snap, err := s.start(mode)
	if err != nil {
		if faults.IsKind(err, faults.KindCapacity) {
			s.logger.Warn("scheduled crawl skipped, task registry at capacity",
				zap.String("mode", string(mode)))
			return
		}
		s.logger.Error("scheduled crawl failed to start",
			zap.String("mode", string(mode)),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled crawl started",
		zap.String("task", snap.ID),
		zap.String("mode", string(mode)))
}

// cronLogger routes the cron runner's recovery output through zap.
type cronLogger struct {
	z *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.z.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.z.Errorw(msg, append(keysAndValues, "error", err)...)
}
