package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Each instance
// owns its registry, so tests can construct isolated copies.
type Metrics struct {
	Registry *prometheus.Registry

	ItemsTotal        *prometheus.CounterVec
	SourceFailures    *prometheus.CounterVec
	SourcesEmpty      *prometheus.CounterVec
	JobsReaped        prometheus.Counter
	HeartbeatFailures prometheus.Counter
	ScanDuration      prometheus.Histogram
	ScanRunning       prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundscan_items_total",
			Help: "Processed items by terminal outcome status",
		}, []string{"status"}),
		SourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundscan_source_failures_total",
			Help: "Source fetches that exhausted their retries",
		}, []string{"source"}),
		SourcesEmpty: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundscan_sources_empty_total",
			Help: "Source fetches that returned zero items",
		}, []string{"source"}),
		JobsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_jobs_reaped_total",
			Help: "Stuck jobs transitioned to failed by the reaper",
		}),
		HeartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_heartbeat_failures_total",
			Help: "Job liveness writes that exhausted their retries",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundscan_scan_duration_seconds",
			Help:    "Wall-clock duration of full scan runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ScanRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fundscan_scan_running",
			Help: "Whether a scan run is currently active",
		}),
	}
}

func (m *Metrics) IncItemOutcome(status string) {
	m.ItemsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncSourceFailure(source string) {
	m.SourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) IncSourceEmpty(source string) {
	m.SourcesEmpty.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveScan(d time.Duration) {
	m.ScanDuration.Observe(d.Seconds())
}
