package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder is the narrow counters/timers surface C12 exposes to the
// rest of the module: inc(name), observe(name, duration), backed by
// Prometheus vectors keyed on a single "name" label so callers never
// register new metric families at runtime.
type MetricsRecorder struct {
	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
	gauges     *prometheus.GaugeVec
}

// NewMetricsRecorder registers the counter/histogram/gauge families against
// reg and returns a recorder bound to them.
func NewMetricsRecorder(reg prometheus.Registerer) *MetricsRecorder {
	m := &MetricsRecorder{
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auditflow",
			Name:      "events_total",
			Help:      "Count of named auditflow events.",
		}, []string{"name"}),
		histograms: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "auditflow",
			Name:      "duration_seconds",
			Help:      "Duration of named auditflow operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "auditflow",
			Name:      "gauge",
			Help:      "Point-in-time value of named auditflow gauges.",
		}, []string{"name"}),
	}
	reg.MustRegister(m.counters, m.histograms, m.gauges)
	return m
}

// Inc increments the counter identified by name.
func (m *MetricsRecorder) Inc(name string) {
	m.counters.WithLabelValues(name).Inc()
}

// Observe records a duration sample for the histogram identified by name.
func (m *MetricsRecorder) Observe(name string, d time.Duration) {
	m.histograms.WithLabelValues(name).Observe(d.Seconds())
}

// Set records a point-in-time value for the gauge identified by name.
func (m *MetricsRecorder) Set(name string, value float64) {
	m.gauges.WithLabelValues(name).Set(value)
}
