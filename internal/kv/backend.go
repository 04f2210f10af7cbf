// Package kv abstracts the key/set/hash/stream backend every store and
// primitive in this module depends on, per spec §9's design note: "define
// a narrow interface (hash/set/stream/kv-with-ttl) and provide two
// implementations: real backend and in-memory. All stores depend only on
// the interface."
package kv

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a stream, keyed by its stream id.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// Backend is the narrow persistence surface BacklogStore, QuestionStore,
// ProjectStore, StateJournal, the dedup/lock primitives, the DLQ writer,
// and the stream processor depend on.
type Backend interface {
	// Strings.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Compare-and-delete: deletes key only if its current value equals
	// token, atomically. Backs the spec-required lock release semantics
	// (§4.3, P7) that the original Python's plain DELETE does not provide.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)

	// Hashes.
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HSet(ctx context.Context, key string, values map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HExists(ctx context.Context, key string) (bool, error)

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Lists (interactions / customer-message logs, append-only).
	LPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Streams.
	XGroupCreate(ctx context.Context, stream, group string) error
	XAdd(ctx context.Context, stream string, values map[string]string, maxLenApprox int64) (string, error)
	XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)
	XAutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]StreamMessage, string, error)
	XAck(ctx context.Context, stream, group string, ids ...string) error
	XPendingCount(ctx context.Context, stream, group string) (int64, error)

	// XRange reads entries directly (no consumer group), newest-first when
	// reverse is true; used by the admin DLQ browse endpoint. count<=0
	// means unbounded.
	XRange(ctx context.Context, stream, start, stop string, count int64, reverse bool) ([]StreamMessage, error)

	// Close releases any underlying connection.
	Close() error
}
