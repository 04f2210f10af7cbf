// Package dlq implements the dead-letter writer (C4): a structured failure
// document appended to a dedicated stream. Grounded on
// original_source/core/dlq.py for the document shape and the brokle
// stream_consumer.go's moveToDLQ for MaxLen-approx trimming/TTL mechanics.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

const stackTraceByteBudget = 4096

// Writer appends DLQ documents to the configured DLQ stream.
type Writer struct {
	backend      kv.Backend
	stream       string
	maxLenApprox int64
}

// New builds a Writer targeting stream, trimmed approximately to maxLen
// entries (0 disables trimming).
func New(backend kv.Backend, stream string, maxLen int64) *Writer {
	return &Writer{backend: backend, stream: stream, maxLenApprox: maxLen}
}

// Options carries the optional fields publish_dlq accepts.
type Options struct {
	SchemaID      string
	Err           error
	ConsumerGroup string
	Attempts      int64
	FirstSeenAt   string
	LastSeenAt    string
}

// Publish appends a DLQ document and returns its id. The original event is
// best-effort JSON-decoded from originalFields' "event" field when present;
// on decode failure the raw fields are retained untouched (spec P8).
func (w *Writer) Publish(ctx context.Context, reason string, originalFields map[string]any, opts Options) (string, error) {
	doc := domain.DLQDocument{
		ID:             ulid.Make().String(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Reason:         reason,
		SchemaID:       opts.SchemaID,
		ConsumerGroup:  opts.ConsumerGroup,
		Attempts:       opts.Attempts,
		FirstSeenAt:    opts.FirstSeenAt,
		LastSeenAt:     opts.LastSeenAt,
		OriginalFields: originalFields,
	}
	if raw, ok := originalFields["event"].(string); ok {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			doc.OriginalEvent = decoded
			if eid, ok := decoded["event_id"].(string); ok {
				doc.EventID = eid
			}
			if et, ok := decoded["event_type"].(string); ok {
				doc.EventType = et
			}
		}
	}
	if opts.Err != nil {
		doc.ErrorClass = fmt.Sprintf("%T", opts.Err)
		doc.ErrorMessage = opts.Err.Error()
		doc.StackTrace = truncate(string(debug.Stack()), stackTraceByteBudget)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	var id string
	retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	writeErr := backoff.Retry(func() error {
		var xErr error
		id, xErr = w.backend.XAdd(ctx, w.stream, map[string]string{"dlq": string(encoded)}, w.maxLenApprox)
		return xErr
	}, backoff.WithContext(retry, ctx))
	if writeErr != nil {
		return "", fmt.Errorf("op=dlq.Writer.Publish: %w", writeErr)
	}
	return id, nil
}

func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	return s[:budget]
}
