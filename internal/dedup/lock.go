package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

// Locker implements acquire_lock/release_lock (C3), with release upgraded
// to a compare-and-delete against the caller's token — see SPEC_FULL.md §6
// for why this is stricter than the original Python's plain DELETE.
type Locker struct {
	backend kv.Backend
}

// NewLocker builds a Locker over backend.
func NewLocker(backend kv.Backend) *Locker {
	return &Locker{backend: backend}
}

// LockKey builds the canonical lock key for a scope, e.g. "backlog:<id>"
// or "project:<pid>:item:<iid>:dispatch".
func LockKey(scope string) string {
	return fmt.Sprintf("lock:%s", scope)
}

// Acquire mints a random token and attempts to set it with ttl iff the key
// is absent. Returns ("", false, nil) when the lock is already held.
func (l *Locker) Acquire(ctx context.Context, scope string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	key := LockKey(scope)
	acquired, err := l.backend.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock only if it is still held by token, so a lock
// reacquired by a new holder after TTL expiry is never released by a stale
// holder's call (spec P7).
func (l *Locker) Release(ctx context.Context, scope, token string) (bool, error) {
	return l.backend.CompareAndDelete(ctx, LockKey(scope), token)
}
