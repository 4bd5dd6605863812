package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageTaskStart    Stage = "TASK_START"
	StageTaskProgress Stage = "TASK_PROGRESS"
	StageTaskDone     Stage = "TASK_DONE"
	StageTaskError    Stage = "TASK_ERROR"
	StagePageDone     Stage = "PAGE_DONE"
	StageThreadDone   Stage = "THREAD_DONE"
	StageSubmitDone   Stage = "SUBMIT_DONE"
)

// Event captures one milestone of a crawl task.
type Event struct {
	// TaskID identifies the run the event belongs to.
	TaskID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Mode labels the crawl mode for metrics partitioning.
	Mode string
	// Section scopes page/thread events to one forum section.
	Section string
	// Percent carries task progress (0-100) on TASK_PROGRESS events.
	Percent int
	// Message is the operator-facing status line for the milestone.
	Message string
	// Threads, Magnets and Failed are delta counters. Their meaning depends
	// on the stage: thread fetch completions, magnets discovered or
	// submitted, and failures respectively.
	Threads int64
	Magnets int64
	Failed  int64
	// Dur captures execution latency for fetch and task completions.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == "" {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError, StageSubmitDone:
	case StageTaskProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	case StagePageDone, StageThreadDone:
		if e.Section == "" {
			return errors.New("page and thread events require a section")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event marks the end of its task.
func (e Event) Terminal() bool {
	return e.Stage == StageTaskDone || e.Stage == StageTaskError
}
