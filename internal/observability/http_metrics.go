package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// StreamMessagesTotal counts stream-processor outcomes by stream, consumer
	// group, and outcome (handled, duplicate, dlq, pending, ignored).
	StreamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_total",
			Help: "Total stream messages processed by outcome",
		},
		[]string{"stream", "group", "outcome"},
	)
	// StreamProcessingDuration records per-message handling duration.
	StreamProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_processing_duration_seconds",
			Help:    "Per-message stream processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stream", "group"},
	)

	// DLQMessagesTotal counts documents written to the dead-letter stream by
	// reason.
	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total messages written to the dead-letter stream",
		},
		[]string{"stream", "reason"},
	)

	// BacklogItemsByStatus is a gauge of backlog item counts per status, set
	// through SetBacklogGauge.
	BacklogItemsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backlog_items",
			Help: "Number of backlog items by status",
		},
		[]string{"project_id", "status"},
	)

	// AgentPhaseDuration records per-phase agent-manager durations.
	AgentPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_phase_duration_seconds",
			Help:    "Agent manager phase duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"phase", "outcome"},
	)

	// CircuitBreakerStatus tracks circuit breaker state per agent/phase.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"agent", "phase"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(StreamMessagesTotal)
	prometheus.MustRegister(StreamProcessingDuration)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(BacklogItemsByStatus)
	prometheus.MustRegister(AgentPhaseDuration)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordStreamOutcome increments the stream outcome counter and observes the
// processing duration for one message.
func RecordStreamOutcome(stream, group, outcome string, dur time.Duration) {
	StreamMessagesTotal.WithLabelValues(stream, group, outcome).Inc()
	StreamProcessingDuration.WithLabelValues(stream, group).Observe(dur.Seconds())
}

// RecordDLQWrite increments the DLQ counter for the given reason.
func RecordDLQWrite(stream, reason string) {
	DLQMessagesTotal.WithLabelValues(stream, reason).Inc()
}

// SetBacklogGauge sets the backlog-items-by-status gauge for one project.
func SetBacklogGauge(projectID, status string, count float64) {
	BacklogItemsByStatus.WithLabelValues(projectID, status).Set(count)
}

// RecordAgentPhase observes a phase's duration and outcome.
func RecordAgentPhase(phase, outcome string, dur time.Duration) {
	AgentPhaseDuration.WithLabelValues(phase, outcome).Observe(dur.Seconds())
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(agent, phase string, status int) {
	CircuitBreakerStatus.WithLabelValues(agent, phase).Set(float64(status))
}
