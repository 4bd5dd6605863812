// Package forum holds the domain model for the crawl: sections, thread IDs,
// the submission watermark, and per-thread extraction records.
package forum

import (
	"sort"
	"strconv"
	"time"
)

// Section is one crawlable subdivision of the forum. Sections are read-only
// during a run; page-range resumption state lives in the state store, not here.
type Section struct {
	// FID is the forum's numeric section ID, kept as a string because it is
	// only ever interpolated into URLs.
	FID string `mapstructure:"fid"`
	// TypeID narrows the section to one topic filter.
	TypeID string `mapstructure:"typeid"`
	// StartPage and EndPage bound the listing pages to visit, inclusive.
	StartPage int `mapstructure:"start_page"`
	EndPage   int `mapstructure:"end_page"`
	// Enabled sections participate in runs; disabled ones are skipped.
	Enabled bool `mapstructure:"enabled"`
}

// ID returns the section's state-store key, combining forum and topic filter.
func (s Section) ID() string {
	return s.FID + "_" + s.TypeID
}

// ThreadID is a numeric-comparable thread token. Non-numeric values compare
// as zero, which also makes them indistinguishable from the unset watermark.
type ThreadID string

// Numeric returns the integer value of the ID, or 0 when it is not numeric.
func (t ThreadID) Numeric() int64 {
	n, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// IsZero reports whether the ID carries no ordering information.
func (t ThreadID) IsZero() bool {
	return t.Numeric() == 0
}

// Compare orders two thread IDs by numeric value: -1, 0, or 1.
func Compare(a, b ThreadID) int {
	an, bn := a.Numeric(), b.Numeric()
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

// Watermark is the highest thread ID known to have been fully processed.
// It never regresses across successful runs.
type Watermark = ThreadID

// SortDescending orders thread IDs largest-first in place. Dispatching the
// largest ID first means a partially cancelled run still advances the
// watermark to the true maximum of whatever completed.
func SortDescending(ids []ThreadID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Numeric() > ids[j].Numeric()
	})
}

// MaxThreadID returns the numerically largest ID, or the zero value for an
// empty slice.
func MaxThreadID(ids []ThreadID) ThreadID {
	var max ThreadID
	for _, id := range ids {
		if Compare(id, max) > 0 {
			max = id
		}
	}
	return max
}

// NewerThan filters ids down to those strictly above the watermark. A zero
// watermark means everything is new (first run).
func NewerThan(ids []ThreadID, mark Watermark) []ThreadID {
	if mark.IsZero() {
		out := make([]ThreadID, len(ids))
		copy(out, ids)
		return out
	}
	var out []ThreadID
	for _, id := range ids {
		if Compare(id, mark) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// Record is the extraction result for one thread. Immutable once produced.
type Record struct {
	SectionID string
	ThreadID  ThreadID
	URL       string
	Title     string
	Success   bool
	Message   string
	Magnets   []string
	CrawledAt time.Time
}
