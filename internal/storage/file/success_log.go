package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SuccessLog appends one submitted key per line. Every append opens, writes,
// syncs and closes the file, so entries survive a crash and two processes
// pointed at the same log interleave whole lines rather than bytes.
type SuccessLog struct {
	mu   sync.Mutex
	path string
}

// NewSuccessLog creates the parent directory and validates the path.
func NewSuccessLog(path string) (*SuccessLog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("success log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create success log directory: %w", err)
	}
	return &SuccessLog{path: path}, nil
}

// Append durably records one key.
func (l *SuccessLog) Append(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("success log key is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open success log: %w", err)
	}
	if _, err := f.WriteString(key + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append success log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync success log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close success log: %w", err)
	}
	return nil
}

// All re-reads the whole log. Duplicate lines are returned as-is; callers
// union them when priming.
func (l *SuccessLog) All(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open success log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var keys []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan success log: %w", err)
	}
	return keys, nil
}
