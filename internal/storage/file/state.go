// Package file implements JSON-file crawl state and an append-only success
// log on the local filesystem. This is the default provider: a single-node
// deployment keeps its whole state in two human-inspectable files.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"magharvest/internal/storage"
)

// StateStore keeps all section states in one JSON file. Writes go through a
// temp file and rename, so a crash never leaves a half-written state behind.
type StateStore struct {
	mu   sync.Mutex
	path string
}

type stateFile struct {
	Sections map[string]storage.SectionState `json:"sections"`
}

// NewStateStore creates the parent directory and validates the path.
func NewStateStore(path string) (*StateStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &StateStore{path: path}, nil
}

// SectionState returns the stored state for a section, or the zero value if
// the section or the whole file does not exist yet.
func (s *StateStore) SectionState(_ context.Context, sectionID string) (storage.SectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return storage.SectionState{}, err
	}
	return f.Sections[sectionID], nil
}

// PutSectionState replaces the stored state for a section.
func (s *StateStore) PutSectionState(_ context.Context, sectionID string, st storage.SectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.read()
	if err != nil {
		return err
	}
	if f.Sections == nil {
		f.Sections = make(map[string]storage.SectionState)
	}
	f.Sections[sectionID] = st
	return s.write(f)
}

func (s *StateStore) read() (stateFile, error) {
	var f stateFile
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return stateFile{Sections: map[string]storage.SectionState{}}, nil
		}
		return f, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return stateFile{Sections: map[string]storage.SectionState{}}, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode state file: %w", err)
	}
	if f.Sections == nil {
		f.Sections = map[string]storage.SectionState{}
	}
	return f, nil
}

func (s *StateStore) write(f stateFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
