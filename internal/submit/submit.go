// Package submit pushes harvested magnets to the offline-download service:
// validate, dedup, chunk, one bulk attempt per chunk, per-item fallback with
// bounded retries. Error kinds from the faults package drive the retry and
// abort decisions.
package submit

import (
	"context"
	"strings"
)

// BulkCap is the provider-imposed ceiling on items per bulk call. Larger
// inputs are split into consecutive chunks of at most this size.
const BulkCap = 100

// Client is the downstream offline-download endpoint. Implementations tag
// returned errors with faults kinds so the pipeline can classify them.
type Client interface {
	// SubmitBulk queues every magnet in one call. Callers keep len(magnets)
	// within BulkCap.
	SubmitBulk(ctx context.Context, magnets []string) error
	// SubmitOne queues a single magnet.
	SubmitOne(ctx context.Context, magnet string) error
}

// Outcome aggregates one Submit invocation. Items cancelled before their
// first attempt appear in no counter except Total.
type Outcome struct {
	// Total is the number of input items, before validation and dedup.
	Total int `json:"total"`
	// Succeeded counts items confirmed queued downstream.
	Succeeded int `json:"succeeded"`
	// Failed counts attempted items that exhausted their retries.
	Failed int `json:"failed"`
	// Duplicates counts items dropped by dedup, within the input set or
	// against the durable success log depending on scope.
	Duplicates int `json:"duplicates"`
	// Invalid counts items dropped by the shape check.
	Invalid int `json:"invalid"`

	FailedDetails []FailureDetail `json:"failed_details,omitempty"`
}

// FailureDetail labels one failed item for operators. Name is the magnet
// display name, not the full URI.
type FailureDetail struct {
	Name string `json:"name"`
	Err  string `json:"error"`
}

// normalizeKey is the canonical dedup key for a magnet: trimmed and
// lowercased, so hash-case variants collapse to one submission.
func normalizeKey(magnet string) string {
	return strings.ToLower(strings.TrimSpace(magnet))
}
