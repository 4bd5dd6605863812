// Package storage defines the persistence seams for crawl state, the
// submission success log and result archives. Implementations live in the
// file, memory, postgres, local and gcs subpackages so the application stays
// independent of any one backend.
package storage

import (
	"context"
	"io"

	"magharvest/internal/forum"
)

// SectionState is the durable crawl state for one forum section.
type SectionState struct {
	// Watermark is the largest thread ID already processed. Everything at
	// or below it is considered done; it never regresses.
	Watermark forum.Watermark `json:"watermark"`
	// LastPage is the last listing page crawled, so discovery can resume
	// from LastPage+1.
	LastPage int `json:"last_page"`
	// KnownIDs is the full discovered thread ID set for the section.
	KnownIDs []forum.ThreadID `json:"known_ids"`
}

// StateStore persists per-section crawl state. Sections that were never
// stored load as the zero value.
type StateStore interface {
	SectionState(ctx context.Context, sectionID string) (SectionState, error)
	PutSectionState(ctx context.Context, sectionID string, st SectionState) error
}

// SuccessLog is the durable, append-only record of successfully submitted
// items. Appends from concurrent batches must serialize; the log may contain
// duplicates, readers union them.
type SuccessLog interface {
	Append(ctx context.Context, key string) error
	All(ctx context.Context) ([]string, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// NoOpBlobStore discards writes. It is the archive backend when archiving is
// disabled.
type NoOpBlobStore struct{}

// PutObject for NoOpBlobStore consumes the reader and returns an empty URI.
func (NoOpBlobStore) PutObject(_ context.Context, _ string, _ string, data io.Reader) (string, error) {
	if data != nil {
		_, _ = io.Copy(io.Discard, data)
	}
	return "", nil
}
