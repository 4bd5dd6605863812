// Package task holds the crawl task state machine and the shared registry.
//
// Each task is mutated only by the orchestrator goroutine that owns it.
// Readers never lock: every mutation publishes a fresh immutable Snapshot
// through an atomic pointer, so the API and CLI always observe a consistent
// view regardless of how far the owning goroutine has progressed.
package task

import (
	"sync/atomic"
	"time"

	"magharvest/internal/faults"
)

// Mode selects what a crawl task does.
type Mode string

const (
	// ModeDiscoverOnly refreshes the known thread ID sets without fetching
	// thread content.
	ModeDiscoverOnly Mode = "discover_only"
	// ModeFullSubmit fetches and submits every known thread.
	ModeFullSubmit Mode = "submit_all"
	// ModeIncremental discovers, diffs against the watermark and processes
	// only threads newer than it.
	ModeIncremental Mode = "incremental"
)

// ParseMode validates a mode string from the API or schedule config.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDiscoverOnly, ModeFullSubmit, ModeIncremental:
		return Mode(s), nil
	}
	return "", faults.Newf(faults.KindValidation, "unknown crawl mode %q", s)
}

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final. Terminal tasks are immutable.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Result summarizes a finished run.
type Result struct {
	Sections   int    `json:"sections"`
	Threads    int64  `json:"threads"`
	Magnets    int64  `json:"magnets"`
	Submitted  int64  `json:"submitted"`
	Duplicates int64  `json:"duplicates"`
	Failed     int64  `json:"failed"`
	ResultFile string `json:"result_file,omitempty"`
	ArchiveRef string `json:"archive_ref,omitempty"`
}

// Snapshot is an immutable view of a task at one point in time.
type Snapshot struct {
	ID         string
	Mode       Mode
	State      State
	Progress   int
	Message    string
	Result     *Result
	Err        string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Task is one crawl run.
type Task struct {
	id        string
	mode      Mode
	createdAt time.Time

	stop atomic.Bool
	cur  atomic.Pointer[Snapshot]
}

// New creates a pending task.
func New(id string, mode Mode, now time.Time) *Task {
	t := &Task{id: id, mode: mode, createdAt: now}
	t.publish(Snapshot{
		ID:        id,
		Mode:      mode,
		State:     StatePending,
		Message:   "queued",
		CreatedAt: now,
	})
	return t
}

func (t *Task) publish(s Snapshot) {
	t.cur.Store(&s)
}

// Snapshot returns the latest published view. The Result payload is copied so
// callers cannot alias internal state.
func (t *Task) Snapshot() Snapshot {
	s := *t.cur.Load()
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// ID returns the task's identifier.
func (t *Task) ID() string { return t.id }

// Mode returns the task's crawl mode.
func (t *Task) Mode() Mode { return t.mode }

// CreatedAt returns when the task was registered.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// RequestStop sets the cooperative stop flag. Safe to call from any
// goroutine; the owning orchestrator polls it between units of work.
func (t *Task) RequestStop() {
	t.stop.Store(true)
}

// Stopping reports whether a stop has been requested.
func (t *Task) Stopping() bool {
	return t.stop.Load()
}

// MarkRunning transitions the task out of pending.
func (t *Task) MarkRunning(now time.Time) {
	s := *t.cur.Load()
	if s.State.Terminal() {
		return
	}
	s.State = StateRunning
	s.StartedAt = now
	s.Message = "running"
	t.publish(s)
}

// SetProgress publishes a progress update. Updates are dropped once the task
// is terminal or a stop has been requested, so no misleading progress is
// emitted after cancellation.
func (t *Task) SetProgress(percent int, message string) {
	if t.Stopping() {
		return
	}
	s := *t.cur.Load()
	if s.State.Terminal() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.Progress = percent
	s.Message = message
	t.publish(s)
}

// Succeed moves the task to its terminal succeeded state.
func (t *Task) Succeed(now time.Time, result Result, message string) {
	s := *t.cur.Load()
	if s.State.Terminal() {
		return
	}
	s.State = StateSucceeded
	s.Progress = 100
	s.Message = message
	s.Result = &result
	s.Err = ""
	s.FinishedAt = now
	t.publish(s)
}

// Fail moves the task to its terminal failed state.
func (t *Task) Fail(now time.Time, message string) {
	s := *t.cur.Load()
	if s.State.Terminal() {
		return
	}
	s.State = StateFailed
	s.Message = message
	s.Err = message
	s.FinishedAt = now
	t.publish(s)
}
