// Package dedup implements the dedup and lock primitives (C3): per-group
// idempotence marking and token-scoped, compare-and-delete locks.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

// Dedup wraps mark_if_new over a key prefix.
type Dedup struct {
	backend kv.Backend
}

// New builds a Dedup over backend.
func New(backend kv.Backend) *Dedup {
	return &Dedup{backend: backend}
}

// ProcessedKey is the canonical idempotence key for a consumer group and
// event id, per the Open Question resolution in SPEC_FULL.md §6: group is
// embedded in the key prefix, matching spec §6.3's literal layout.
func ProcessedKey(group, eventID string) string {
	return fmt.Sprintf("processed:%s:%s", group, eventID)
}

// MarkIfNew atomically sets key with ttl iff it was absent, returning true
// only for the caller that won the race.
func (d *Dedup) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.backend.SetNX(ctx, key, "1", ttl)
}
