package submit

import (
	"context"
	"fmt"
	"sync"

	"magharvest/internal/faults"
	"magharvest/internal/forum"
	"magharvest/internal/storage"
)

// Scope selects how far back dedup looks.
type Scope string

const (
	// ScopeAll primes the deduper from the whole durable success log, so
	// anything ever submitted is skipped.
	ScopeAll Scope = "all"
	// ScopeCurrentBatchOnly ignores history; only repeats within the
	// current run are flagged.
	ScopeCurrentBatchOnly Scope = "current"
)

// ParseScope maps a config string onto a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeAll, ScopeCurrentBatchOnly:
		return Scope(s), nil
	default:
		return "", faults.Newf(faults.KindConfig, "unknown dedup scope %q", s)
	}
}

// Deduper tracks which magnets are already submitted. One instance lives per
// run; IsKnown reads are safe concurrently with MarkSuccess from in-flight
// chunks. Successes are always appended to the durable log regardless of
// scope, since scope only governs what Load primes from.
type Deduper struct {
	scope Scope
	log   storage.SuccessLog

	mu    sync.RWMutex
	known map[string]struct{}
}

// NewDeduper builds an unprimed deduper backed by the given success log.
func NewDeduper(scope Scope, log storage.SuccessLog) *Deduper {
	return &Deduper{
		scope: scope,
		log:   log,
		known: make(map[string]struct{}),
	}
}

// Load primes the known set. In ScopeAll the whole success log is re-read
// and unioned in; malformed lines are skipped. In ScopeCurrentBatchOnly this
// is a no-op. Load is idempotent.
func (d *Deduper) Load(ctx context.Context) error {
	if d.scope != ScopeAll {
		return nil
	}
	keys, err := d.log.All(ctx)
	if err != nil {
		return fmt.Errorf("load success log: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		k = normalizeKey(k)
		if !forum.ValidMagnet(k) {
			continue
		}
		d.known[k] = struct{}{}
	}
	return nil
}

// IsKnown reports whether the magnet was already submitted, per the scope.
func (d *Deduper) IsKnown(magnet string) bool {
	key := normalizeKey(magnet)
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[key]
	return ok
}

// MarkSuccess records a confirmed submission, durably and in memory. The
// append happens first so a crash cannot acknowledge an unrecorded success.
func (d *Deduper) MarkSuccess(ctx context.Context, magnet string) error {
	key := normalizeKey(magnet)
	if err := d.log.Append(ctx, key); err != nil {
		return fmt.Errorf("append success log: %w", err)
	}
	d.mu.Lock()
	d.known[key] = struct{}{}
	d.mu.Unlock()
	return nil
}

// Known reports the current size of the known set.
func (d *Deduper) Known() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.known)
}
