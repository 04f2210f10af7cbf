package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddleware_RecordsRequestsTotal(t *testing.T) {
	HTTPRequestsTotal.Reset()
	handler := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/health", http.MethodGet, http.StatusText(http.StatusOK)))
	if got != 1 {
		t.Fatalf("HTTPRequestsTotal = %v, want 1", got)
	}
}

func TestRecordStreamOutcome_IncrementsCounterAndObservesDuration(t *testing.T) {
	StreamMessagesTotal.Reset()
	RecordStreamOutcome("audit:events", "orchestrator", "acked", 10*time.Millisecond)

	got := testutil.ToFloat64(StreamMessagesTotal.WithLabelValues("audit:events", "orchestrator", "acked"))
	if got != 1 {
		t.Fatalf("StreamMessagesTotal = %v, want 1", got)
	}
}

func TestRecordDLQWrite_IncrementsCounter(t *testing.T) {
	DLQMessagesTotal.Reset()
	RecordDLQWrite("audit:dlq", "schema_invalid")

	got := testutil.ToFloat64(DLQMessagesTotal.WithLabelValues("audit:dlq", "schema_invalid"))
	if got != 1 {
		t.Fatalf("DLQMessagesTotal = %v, want 1", got)
	}
}

func TestSetBacklogGauge_SetsValue(t *testing.T) {
	BacklogItemsByStatus.Reset()
	SetBacklogGauge("proj-1", "READY", 3)

	got := testutil.ToFloat64(BacklogItemsByStatus.WithLabelValues("proj-1", "READY"))
	if got != 3 {
		t.Fatalf("BacklogItemsByStatus = %v, want 3", got)
	}
}

func TestRecordCircuitBreakerStatus_SetsValue(t *testing.T) {
	CircuitBreakerStatus.Reset()
	RecordCircuitBreakerStatus("dev_worker", "CODE", 1)

	got := testutil.ToFloat64(CircuitBreakerStatus.WithLabelValues("dev_worker", "CODE"))
	if got != 1 {
		t.Fatalf("CircuitBreakerStatus = %v, want 1", got)
	}
}
