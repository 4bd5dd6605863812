// Package notify defines the interface for delivering task completion
// notifications. The abstraction keeps the crawl pipeline independent of a
// specific delivery mechanism (e.g., GCP Pub/Sub, an in-memory recorder for
// tests, or nothing at all).
package notify

import (
	"context"
	"time"
)

// Completion statuses.
const (
	StatusDone  = "done"
	StatusError = "error"
)

// Completion describes a finished crawl task.
type Completion struct {
	TaskID     string    `json:"task_id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Threads    int64     `json:"threads"`
	Magnets    int64     `json:"magnets"`
	Failed     int64     `json:"failed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers completion notifications.
type Publisher interface {
	// Publish sends one completion notification and returns the provider's
	// message ID.
	Publish(ctx context.Context, c Completion) (string, error)

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOpPublisher discards notifications. It is the provider used when
// notifications are disabled.
type NoOpPublisher struct{}

// Publish for NoOpPublisher does nothing and returns an empty ID.
func (NoOpPublisher) Publish(context.Context, Completion) (string, error) { return "", nil }

// Close for NoOpPublisher does nothing and returns nil.
func (NoOpPublisher) Close() error { return nil }
