package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

func testServerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestServer(backend kv.Backend) *Server {
	return NewServer(backend, "audit:dlq", "audit:events", 1000, 1000, []string{"*"})
}

func seedDLQDocument(t *testing.T, backend kv.Backend, stream string, doc domain.DLQDocument) string {
	t.Helper()
	encoded, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal dlq document: %v", err)
	}
	id, err := backend.XAdd(context.Background(), stream, map[string]string{"dlq": string(encoded)}, 1000)
	if err != nil {
		t.Fatalf("XAdd dlq: %v", err)
	}
	return id
}

func TestParseOrigins(t *testing.T) {
	if got := ParseOrigins(""); len(got) != 1 || got[0] != "*" {
		t.Fatalf("empty input = %v, want [*]", got)
	}
	if got := ParseOrigins("*"); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard input = %v, want [*]", got)
	}
	got := ParseOrigins(" https://a.test , https://b.test ,")
	if len(got) != 2 || got[0] != "https://a.test" || got[1] != "https://b.test" {
		t.Fatalf("got %v", got)
	}
}

func TestHealthzHandler(t *testing.T) {
	srv := newTestServer(kv.NewMemoryBackend())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.HealthzHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestListDLQHandler_ReturnsDocumentsNewestFirstWithStreamID(t *testing.T) {
	backend := kv.NewMemoryBackend()
	srv := newTestServer(backend)
	seedDLQDocument(t, backend, srv.DLQStream, domain.DLQDocument{
		ID: "doc-1", Timestamp: time.Now().UTC().Format(time.RFC3339), Reason: "schema_invalid",
		OriginalFields: map[string]any{"event": "{}"},
	})
	seedDLQDocument(t, backend, srv.DLQStream, domain.DLQDocument{
		ID: "doc-2", Timestamp: time.Now().UTC().Format(time.RFC3339), Reason: "handler_error",
		OriginalFields: map[string]any{"event": "{}"},
	})

	req := httptest.NewRequest(http.MethodGet, "/dlq", nil)
	rec := httptest.NewRecorder()
	srv.ListDLQHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Documents) != 2 {
		t.Fatalf("expected two documents, got %d", len(body.Documents))
	}
	if body.Documents[0]["_stream_id"] == "" || body.Documents[0]["_stream_id"] == nil {
		t.Fatal("expected _stream_id to be injected")
	}
	if body.Documents[0]["reason"] != "handler_error" {
		t.Fatalf("newest reason = %v, want handler_error", body.Documents[0]["reason"])
	}
	if body.Documents[1]["reason"] != "schema_invalid" {
		t.Fatalf("reason = %v", body.Documents[1]["reason"])
	}
}

func TestListDLQHandler_RespectsLimitQueryParam(t *testing.T) {
	backend := kv.NewMemoryBackend()
	srv := newTestServer(backend)
	for i := 0; i < 3; i++ {
		seedDLQDocument(t, backend, srv.DLQStream, domain.DLQDocument{
			ID: "doc", Timestamp: time.Now().UTC().Format(time.RFC3339), Reason: "x",
			OriginalFields: map[string]any{},
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/dlq?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.ListDLQHandler()(rec, req)

	var body struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Documents) != 2 {
		t.Fatalf("expected limit=2 to cap results, got %d", len(body.Documents))
	}
}

func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestReplayDLQHandler_NotFound(t *testing.T) {
	srv := newTestServer(kv.NewMemoryBackend())
	req := httptest.NewRequest(http.MethodPost, "/dlq/missing-id/replay", nil)
	req = withChiURLParam(req, "id", "missing-id")
	rec := httptest.NewRecorder()
	srv.ReplayDLQHandler()(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReplayDLQHandler_MissingReplayableEventIsUnprocessable(t *testing.T) {
	backend := kv.NewMemoryBackend()
	srv := newTestServer(backend)
	id := seedDLQDocument(t, backend, srv.DLQStream, domain.DLQDocument{
		ID: "doc-2", Timestamp: time.Now().UTC().Format(time.RFC3339), Reason: "x",
		OriginalFields: map[string]any{"not_event": "irrelevant"},
	})

	req := httptest.NewRequest(http.MethodPost, "/dlq/"+id+"/replay", nil)
	req = withChiURLParam(req, "id", id)
	rec := httptest.NewRecorder()
	srv.ReplayDLQHandler()(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rec.Code, rec.Body.String())
	}
}

func TestReplayDLQHandler_SuccessRepublishesOntoEventStream(t *testing.T) {
	backend := kv.NewMemoryBackend()
	srv := newTestServer(backend)
	originalEvent := `{"event_id":"evt-1","event_type":"WORK.ITEM_DISPATCHED"}`
	id := seedDLQDocument(t, backend, srv.DLQStream, domain.DLQDocument{
		ID: "doc-3", Timestamp: time.Now().UTC().Format(time.RFC3339), Reason: "handler_error",
		OriginalFields: map[string]any{"event": originalEvent},
	})

	req := httptest.NewRequest(http.MethodPost, "/dlq/"+id+"/replay", nil)
	req = withChiURLParam(req, "id", id)
	rec := httptest.NewRecorder()
	srv.ReplayDLQHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	msgs, err := backend.XRange(context.Background(), srv.EventStream, "-", "+", 0, false)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one republished event, got %d", len(msgs))
	}
	if msgs[0].Values["event"] != originalEvent {
		t.Fatalf("republished event = %q, want %q", msgs[0].Values["event"], originalEvent)
	}
}

func TestPublishEventHandler_MalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(kv.NewMemoryBackend())
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString("{not-json"))
	rec := httptest.NewRecorder()
	srv.PublishEventHandler()(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublishEventHandler_MissingRequiredFieldsIsUnprocessable(t *testing.T) {
	srv := newTestServer(kv.NewMemoryBackend())
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(`{"event_type":""}`))
	rec := httptest.NewRecorder()
	srv.PublishEventHandler()(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestPublishEventHandler_SuccessAppendsEnvelopeToEventStream(t *testing.T) {
	backend := kv.NewMemoryBackend()
	srv := newTestServer(backend)
	body := `{"event_type":"WORK.ITEM_DISPATCHED","payload":{"project_id":"proj-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.PublishEventHandler()(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["event_id"] == "" || resp["event_id"] == nil {
		t.Fatal("expected a non-empty event_id")
	}
	msgs, err := backend.XRange(context.Background(), srv.EventStream, "-", "+", 0, false)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one published event, got %d", len(msgs))
	}
}

func TestRouter_HealthzIsReachableThroughFullMiddlewareChain(t *testing.T) {
	srv := newTestServer(kv.NewMemoryBackend())
	ts := httptest.NewServer(srv.Router(testServerLogger()))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected RequestID middleware to set X-Request-Id")
	}
}
