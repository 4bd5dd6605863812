package task

import (
	"errors"
	"sort"
	"sync"
	"time"

	"magharvest/internal/faults"
	"magharvest/internal/id/uuid"
)

// ErrNotFound signals that the requested task does not exist.
var ErrNotFound = errors.New("task not found")

// Registry limits.
const (
	DefaultMaxConcurrent = 10
	DefaultKeepFinished  = 10
)

// Manager is the shared task registry. A single mutex guards the map;
// individual task state is read through atomic snapshots, so the lock covers
// only membership changes and iteration.
type Manager struct {
	mu            sync.Mutex
	tasks         map[string]*Task
	maxConcurrent int
	keepFinished  int
}

// NewManager creates a Manager. Non-positive maxConcurrent and negative
// keepFinished fall back to the defaults.
func NewManager(maxConcurrent, keepFinished int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if keepFinished < 0 {
		keepFinished = DefaultKeepFinished
	}
	return &Manager{
		tasks:         make(map[string]*Task),
		maxConcurrent: maxConcurrent,
		keepFinished:  keepFinished,
	}
}

// Register admits a task into the registry. It refuses with a capacity fault
// when the number of non-terminal tasks has reached the concurrency ceiling,
// and evicts surplus finished tasks on the way in.
func (m *Manager) Register(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningLocked() >= m.maxConcurrent {
		return faults.Newf(faults.KindCapacity, "task limit reached (%d active)", m.maxConcurrent)
	}
	m.tasks[t.ID()] = t
	m.evictLocked()
	return nil
}

// Get returns the task or ErrNotFound.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns snapshots of every registered task, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// RunningCount returns the number of tasks not yet in a terminal state.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// EvictFinished drops terminal tasks beyond the configured keep count.
// Running tasks are never evicted.
func (m *Manager) EvictFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked()
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, t := range m.tasks {
		if !t.Snapshot().State.Terminal() {
			n++
		}
	}
	return n
}

func (m *Manager) evictLocked() {
	type finished struct {
		id string
		at time.Time
	}
	var done []finished
	for id, t := range m.tasks {
		s := t.Snapshot()
		if s.State.Terminal() {
			done = append(done, finished{id: id, at: evictionTime(id, s)})
		}
	}
	if len(done) <= m.keepFinished {
		return
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].at.After(done[j].at)
	})
	for _, f := range done[m.keepFinished:] {
		delete(m.tasks, f.id)
	}
}

// evictionTime orders terminal tasks newest first by the creation timestamp
// embedded in the UUIDv7 id, falling back to the recorded creation time for
// ids that do not parse.
func evictionTime(id string, s Snapshot) time.Time {
	if ts, ok := uuid.CreationTime(id); ok {
		return ts
	}
	return s.CreatedAt
}
