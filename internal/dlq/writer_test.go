package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

func TestWriter_Publish_WritesUnderDLQFieldKey(t *testing.T) {
	backend := kv.NewMemoryBackend()
	w := New(backend, "audit:dlq", 1000)

	id, err := w.Publish(context.Background(), "schema_invalid", map[string]any{"event": `{"event_id":"evt-1"}`}, Options{SchemaID: "payload:x"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty document id")
	}

	msgs, err := backend.XRange(context.Background(), "audit:dlq", "-", "+", 0, false)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v, err=%v", msgs, err)
	}
	raw, ok := msgs[0].Values["dlq"]
	if !ok {
		t.Fatal("expected the document under the \"dlq\" field key")
	}
	var doc domain.DLQDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal doc: %v", err)
	}
	if doc.Reason != "schema_invalid" {
		t.Fatalf("Reason = %q", doc.Reason)
	}
	if doc.EventID != "evt-1" {
		t.Fatalf("expected EventID decoded from originalFields.event, got %q", doc.EventID)
	}
}

func TestWriter_Publish_MalformedOriginalEventIsRetainedVerbatim(t *testing.T) {
	backend := kv.NewMemoryBackend()
	w := New(backend, "audit:dlq", 1000)

	_, err := w.Publish(context.Background(), "invalid_json", map[string]any{"event": "{not-json"}, "other": "field"}, Options{})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msgs, err := backend.XRange(context.Background(), "audit:dlq", "-", "+", 0, false)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v, err=%v", msgs, err)
	}
	var doc domain.DLQDocument
	if err := json.Unmarshal([]byte(msgs[0].Values["dlq"]), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.OriginalEvent != nil {
		t.Fatalf("expected no decoded OriginalEvent for malformed JSON, got %+v", doc.OriginalEvent)
	}
	if doc.OriginalFields["other"] != "field" {
		t.Fatalf("expected raw original fields retained, got %+v", doc.OriginalFields)
	}
}

func TestWriter_Publish_RecordsErrorDetailsWhenProvided(t *testing.T) {
	backend := kv.NewMemoryBackend()
	w := New(backend, "audit:dlq", 1000)

	_, err := w.Publish(context.Background(), "handler_error", map[string]any{}, Options{Err: errors.New("boom")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msgs, err := backend.XRange(context.Background(), "audit:dlq", "-", "+", 0, false)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange: %v, err=%v", msgs, err)
	}
	var doc domain.DLQDocument
	if err := json.Unmarshal([]byte(msgs[0].Values["dlq"]), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ErrorMessage != "boom" {
		t.Fatalf("ErrorMessage = %q", doc.ErrorMessage)
	}
	if doc.ErrorClass == "" {
		t.Fatal("expected a non-empty ErrorClass")
	}
}
