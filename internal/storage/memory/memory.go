// Package memory contains in-memory storage implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"magharvest/internal/forum"
	"magharvest/internal/storage"
)

// StateStore keeps section states in a map.
type StateStore struct {
	mu       sync.RWMutex
	sections map[string]storage.SectionState
}

// NewStateStore constructs an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{sections: make(map[string]storage.SectionState)}
}

// SectionState returns the stored state or the zero value.
func (s *StateStore) SectionState(_ context.Context, sectionID string) (storage.SectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.sections[sectionID]
	st.KnownIDs = append([]forum.ThreadID(nil), st.KnownIDs...)
	return st, nil
}

// PutSectionState replaces the stored state for a section.
func (s *StateStore) PutSectionState(_ context.Context, sectionID string, st storage.SectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.KnownIDs = append([]forum.ThreadID(nil), st.KnownIDs...)
	s.sections[sectionID] = st
	return nil
}

// SuccessLog records appended keys in order.
type SuccessLog struct {
	mu   sync.Mutex
	keys []string
}

// NewSuccessLog constructs an empty SuccessLog.
func NewSuccessLog() *SuccessLog {
	return &SuccessLog{}
}

// Append records one key.
func (l *SuccessLog) Append(_ context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("success log key is empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return nil
}

// All returns the recorded keys.
func (l *SuccessLog) All(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.keys))
	copy(out, l.keys)
	return out, nil
}

// BlobStore keeps uploaded objects in a map for inspection.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

// PutObject stores the object and returns a mem:// URI.
func (b *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return "mem://" + path, nil
}

// Object returns a stored object's bytes.
func (b *BlobStore) Object(path string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}
