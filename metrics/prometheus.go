package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the relay. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram

	// Pipeline stage metrics
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec

	// Payload metrics
	UploadSize    prometheus.Histogram
	SynthesisSize prometheus.Histogram
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_requests_total",
			Help: "Total number of pipeline requests by transport and outcome",
		}, []string{"transport", "outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_request_duration_seconds",
			Help:    "End-to-end pipeline duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atlas_stage_duration_seconds",
			Help:    "Time spent in each external service call",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"stage"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atlas_stage_errors_total",
			Help: "Total number of failed pipeline stages",
		}, []string{"stage"}),

		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_upload_size_bytes",
			Help:    "Size of uploaded recordings",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),
		SynthesisSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "atlas_synthesis_size_bytes",
			Help:    "Size of synthesized audio responses",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) ObserveRequest(transport, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(transport, outcome).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveUpload(n int) {
	if m == nil {
		return
	}
	m.UploadSize.Observe(float64(n))
}

func (m *Metrics) ObserveSynthesis(n int) {
	if m == nil {
		return
	}
	m.SynthesisSize.Observe(float64(n))
}
