// Package trace implements the per-agent append-only decision log (C12).
// Grounded on original_source/core/trace.py's TraceLogger: write-through to
// a backend stream keyed by agent, with an in-memory fallback store used
// both when no backend is wired and to answer Fetch (streams are
// write-optimized; operators read them with their own tooling, so Fetch
// answers from the local mirror).
package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fairyhunter13/auditflow/internal/kv"
)

// Record is one entry in an agent's decision log.
type Record struct {
	Agent         string         `json:"agent"`
	EventType     string         `json:"event_type"`
	Decision      string         `json:"decision"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Logger appends Records to a per-agent stream and mirrors them locally.
type Logger struct {
	backend kv.Backend
	prefix  string

	mu    sync.RWMutex
	store map[string][]Record
}

// NewLogger builds a Logger. backend may be nil, in which case logging is
// purely in-memory.
func NewLogger(backend kv.Backend, prefix string) *Logger {
	if prefix == "" {
		prefix = "audit:trace"
	}
	return &Logger{backend: backend, prefix: prefix, store: make(map[string][]Record)}
}

func (l *Logger) key(agent string) string {
	return fmt.Sprintf("%s:%s", l.prefix, agent)
}

// Log appends record to the agent's log.
func (l *Logger) Log(ctx context.Context, record Record) {
	l.mu.Lock()
	l.store[record.Agent] = append(l.store[record.Agent], record)
	l.mu.Unlock()

	if l.backend == nil {
		return
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return
	}
	_, _ = l.backend.XAdd(ctx, l.key(record.Agent), map[string]string{"trace": string(encoded)}, 0)
}

// Fetch returns up to limit most recent records for agent, oldest first.
func (l *Logger) Fetch(agent string, limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := l.store[agent]
	if limit <= 0 || limit >= len(records) {
		out := make([]Record, len(records))
		copy(out, records)
		return out
	}
	return append([]Record(nil), records[len(records)-limit:]...)
}
