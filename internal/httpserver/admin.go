package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
)

var validate = validator.New()

// ParseOrigins splits a comma-separated CORS origin list, defaulting to "*".
func ParseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Server wires the admin HTTP surface's dependencies: the backend for DLQ
// browse/replay and health, and the event stream to republish onto.
type Server struct {
	Backend         kv.Backend
	DLQStream       string
	EventStream     string
	MaxLenApprox    int64
	StartedAt       time.Time
	RateLimitPerMin int
	CORSOrigins     []string
}

// NewServer builds a Server.
func NewServer(backend kv.Backend, dlqStream, eventStream string, maxLenApprox int64, rateLimitPerMin int, corsOrigins []string) *Server {
	return &Server{
		Backend: backend, DLQStream: dlqStream, EventStream: eventStream, MaxLenApprox: maxLenApprox,
		StartedAt: time.Now().UTC(), RateLimitPerMin: rateLimitPerMin, CORSOrigins: corsOrigins,
	}
}

// Router builds the chi.Router exposing /healthz, /metrics, and the DLQ
// browse/replay endpoints.
func (s *Server) Router(logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(Recoverer(logger))
	r.Use(RequestID())
	r.Use(AccessLog(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.HealthzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(s.RateLimitPerMin, time.Minute))
		wr.Get("/dlq", s.ListDLQHandler())
		wr.Post("/dlq/{id}/replay", s.ReplayDLQHandler())
		wr.Post("/events", s.PublishEventHandler())
	})

	return SecurityHeaders(r)
}

// publishEventRequest is an operator-submitted event injection, validated
// before being wrapped into an envelope and appended to EventStream.
type publishEventRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	Payload   map[string]any `json:"payload" validate:"required"`
}

// PublishEventHandler lets an operator manually inject an event onto
// EventStream, e.g. to re-trigger a stuck workflow step.
func (s *Server) PublishEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
		if err := validate.Struct(req); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		env := domain.EventEnvelope{
			EventID:       uuid.NewString(),
			EventType:     req.EventType,
			EventVersion:  domain.EventVersion1,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Source:        domain.EventSource{Service: "admin", Instance: "manual"},
			CorrelationID: uuid.NewString(),
			Payload:       req.Payload,
		}
		encoded, err := json.Marshal(env)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		id, err := s.Backend.XAdd(r.Context(), s.EventStream, map[string]string{"event": string(encoded)}, s.MaxLenApprox)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"event_id": env.EventID, "stream_id": id})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthzHandler reports liveness plus uptime.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "uptime_seconds": time.Since(s.StartedAt).Seconds(),
		})
	}
}

// ListDLQHandler returns up to `limit` (default 50) most recent DLQ
// documents, newest first.
func (s *Server) ListDLQHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := int64(50)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		entries, err := s.Backend.XRange(r.Context(), s.DLQStream, "-", "+", limit, true)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		docs := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			raw, ok := e.Values["dlq"]
			if !ok {
				continue
			}
			var doc map[string]any
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				continue
			}
			doc["_stream_id"] = e.ID
			docs = append(docs, doc)
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

// ReplayDLQHandler re-publishes a DLQ document's original event back onto
// the main event stream, by its stream entry id.
func (s *Server) ReplayDLQHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		entries, err := s.Backend.XRange(r.Context(), s.DLQStream, id, id, 1, false)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if len(entries) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "dlq document not found"})
			return
		}
		raw, ok := entries[0].Values["dlq"]
		if !ok {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "dlq entry missing payload"})
			return
		}
		var doc dlqDocumentFields
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "malformed dlq document"})
			return
		}
		originalEvent, ok := doc.OriginalFields["event"].(string)
		if !ok || originalEvent == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "dlq document carries no replayable event"})
			return
		}
		newID, err := s.Backend.XAdd(r.Context(), s.EventStream, map[string]string{"event": originalEvent}, s.MaxLenApprox)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"replayed_as": newID})
	}
}

// dlqDocumentFields mirrors the subset of domain.DLQDocument this handler
// needs to decode without importing the domain package's JSON-tagged
// OriginalEvent shape (any).
type dlqDocumentFields struct {
	OriginalFields map[string]any `json:"original_fields"`
}
