package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryBackend is a pure-Go in-memory Backend implementation, including a
// pending-entries simulation of consumer-group stream semantics, so unit
// tests can exercise the stream processor's reclaim path without a real
// Redis. Grounded on spec §9's design note and cross-checked against
// original_source/core/redis_streams.py's algorithm; no pack file
// implements an in-memory Redis-Streams double, so this is authored
// directly from the specification.
type MemoryBackend struct {
	mu sync.Mutex

	strings map[string]expiring
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	streams map[string]*memStream
}

type expiring struct {
	value   string
	expires time.Time // zero means no TTL
}

type streamEntry struct {
	id     string
	values map[string]string
}

type pendingEntry struct {
	consumer   string
	deliverAt  time.Time
}

type memGroup struct {
	pending map[string]pendingEntry // entry id -> holder
	lastID  int
}

type memStream struct {
	entries []streamEntry
	groups  map[string]*memGroup
	seq     int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		strings: make(map[string]expiring),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		streams: make(map[string]*memStream),
	}
}

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) isExpired(e expiring) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.strings[key]
	if !ok || b.isExpired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strings[key] = b.expiringOf(value, ttl)
	return nil
}

func (b *MemoryBackend) expiringOf(value string, ttl time.Duration) expiring {
	e := expiring{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	return e
}

func (b *MemoryBackend) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.strings[key]; ok && !b.isExpired(e) {
		return false, nil
	}
	b.strings[key] = b.expiringOf(value, ttl)
	return true, nil
}

func (b *MemoryBackend) Del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.strings, k)
		delete(b.hashes, k)
		delete(b.sets, k)
		delete(b.lists, k)
	}
	return nil
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.strings[key]; ok {
		e.expires = time.Now().Add(ttl)
		b.strings[key] = e
	}
	return nil
}

func (b *MemoryBackend) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.strings[key]
	if !ok || b.isExpired(e) || e.value != token {
		return false, nil
	}
	delete(b.strings, key)
	return true, nil
}

func (b *MemoryBackend) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (b *MemoryBackend) HSet(_ context.Context, key string, values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
	return nil
}

func (b *MemoryBackend) HGetAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBackend) HExists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.hashes[key]
	return ok, nil
}

func (b *MemoryBackend) SAdd(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sets[key]
	if !ok {
		s = make(map[string]struct{})
		b.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (b *MemoryBackend) SRem(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	return nil
}

func (b *MemoryBackend) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (b *MemoryBackend) LPush(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[key] = append([]string{value}, b.lists[key]...)
	return nil
}

func (b *MemoryBackend) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (b *MemoryBackend) stream(name string) *memStream {
	s, ok := b.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup)}
		b.streams[name] = s
	}
	return s
}

func (b *MemoryBackend) XGroupCreate(_ context.Context, streamName, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(streamName)
	if _, ok := s.groups[group]; ok {
		return nil // BUSYGROUP tolerated
	}
	s.groups[group] = &memGroup{pending: make(map[string]pendingEntry)}
	return nil
}

func (b *MemoryBackend) XAdd(_ context.Context, streamName string, values map[string]string, maxLenApprox int64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(streamName)
	s.seq++
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), s.seq)
	s.entries = append(s.entries, streamEntry{id: id, values: values})
	if maxLenApprox > 0 && int64(len(s.entries)) > maxLenApprox {
		trim := int64(len(s.entries)) - maxLenApprox
		s.entries = s.entries[trim:]
	}
	return id, nil
}

func (b *MemoryBackend) XReadGroup(_ context.Context, streamName, group, consumer string, count int64, _ time.Duration) ([]StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(streamName)
	g, ok := s.groups[group]
	if !ok {
		g = &memGroup{pending: make(map[string]pendingEntry)}
		s.groups[group] = g
	}
	var out []StreamMessage
	for i := g.lastID; i < len(s.entries) && int64(len(out)) < count; i++ {
		e := s.entries[i]
		g.pending[e.id] = pendingEntry{consumer: consumer, deliverAt: time.Now()}
		out = append(out, StreamMessage{ID: e.id, Values: e.values})
		g.lastID = i + 1
	}
	return out, nil
}

func (b *MemoryBackend) XAutoClaim(_ context.Context, streamName, group, consumer string, minIdle time.Duration, _ string, count int64) ([]StreamMessage, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stream(streamName)
	g, ok := s.groups[group]
	if !ok {
		return nil, "0-0", nil
	}
	byID := make(map[string]streamEntry, len(s.entries))
	for _, e := range s.entries {
		byID[e.id] = e
	}
	var ids []string
	for id, p := range g.pending {
		if time.Since(p.deliverAt) >= minIdle {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var out []StreamMessage
	for _, id := range ids {
		if int64(len(out)) >= count {
			break
		}
		e, found := byID[id]
		if !found {
			delete(g.pending, id) // trimmed from the stream
			continue
		}
		g.pending[id] = pendingEntry{consumer: consumer, deliverAt: time.Now()}
		out = append(out, StreamMessage{ID: e.id, Values: e.values})
	}
	return out, "0-0", nil
}

func (b *MemoryBackend) XAck(_ context.Context, streamName, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[streamName]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

func (b *MemoryBackend) XPendingCount(_ context.Context, streamName, group string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[streamName]
	if !ok {
		return 0, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return 0, nil
	}
	return int64(len(g.pending)), nil
}

// XRange returns entries between start and stop (inclusive; "-"/"+" mean
// the lowest/highest id, matching Redis XRANGE semantics), reversed and
// count-limited as requested.
func (b *MemoryBackend) XRange(_ context.Context, streamName, start, stop string, count int64, reverse bool) ([]StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[streamName]
	if !ok {
		return nil, nil
	}
	entries := make([]streamEntry, len(s.entries))
	copy(entries, s.entries)
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	filtered := make([]streamEntry, 0, len(entries))
	for _, e := range entries {
		if start != "-" && e.id < start {
			continue
		}
		if stop != "+" && e.id > stop {
			continue
		}
		filtered = append(filtered, e)
		if count > 0 && int64(len(filtered)) >= count {
			break
		}
	}
	out := make([]StreamMessage, 0, len(filtered))
	for _, e := range filtered {
		out = append(out, StreamMessage{ID: e.id, Values: e.values})
	}
	return out, nil
}
