package task

import "time"

// Clock supplies timestamps for task transitions.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints task IDs. IDs are expected to embed their creation time
// (UUIDv7) so finished-task eviction can order them newest first.
type IDGenerator interface {
	NewID() (string, error)
}
