// Package uuid provides task ID generation helpers.
//
// Task IDs are UUIDv7 strings. The embedded millisecond timestamp gives
// finished-task eviction a stable newest-first ordering without tracking
// creation times separately.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 task IDs. It implements task.IDGenerator.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// CreationTime extracts the timestamp embedded in a UUIDv7 task ID.
// The second return is false when the ID is not a parseable UUIDv7.
func CreationTime(id string) (time.Time, bool) {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return time.Time{}, false
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), true
}
