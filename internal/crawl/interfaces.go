package crawl

import (
	"context"
	"time"

	"magharvest/internal/forum"
	"magharvest/internal/submit"
)

// Submitter pushes extracted magnets to the offline-download service.
type Submitter interface {
	Submit(ctx context.Context, magnets []string) (submit.Outcome, error)
}

// Artifact locates the persisted output of one run.
type Artifact struct {
	// Path is the local CSV file the run's records were written to.
	Path string
	// ArchiveURI points at the archived copy, empty when archiving is off.
	ArchiveURI string
}

// ResultSink persists the records of a completed run.
type ResultSink interface {
	WriteRun(ctx context.Context, mode string, records []forum.Record) (Artifact, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
