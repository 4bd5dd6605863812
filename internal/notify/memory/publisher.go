// Package memory contains an in-memory notification publisher for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"magharvest/internal/notify"
)

// Publisher stores published completions for inspection.
type Publisher struct {
	mu        sync.RWMutex
	published []notify.Completion
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the completion and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, c notify.Completion) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, c)
	return fmt.Sprintf("memory-%d", len(p.published)), nil
}

// Close does nothing for the memory publisher.
func (p *Publisher) Close() error { return nil }

// Published returns the recorded completions.
func (p *Publisher) Published() []notify.Completion {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]notify.Completion, len(p.published))
	copy(out, p.published)
	return out
}
