package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	PredictionLatency     *prometheus.HistogramVec
	IdentityTokenLatency  prometheus.Histogram
	WCARequestLatency     *prometheus.HistogramVec
	PreprocessLatency     prometheus.Histogram
	PostprocessLatency    prometheus.Histogram
	CompletionsReturnCode *prometheus.CounterVec
	ProcessErrorCount     *prometheus.CounterVec
	HealthCheckFailures   *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PredictionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "model_prediction_latency_seconds",
			Help: "Latency of model inference calls.",
		}, []string{"provider"}),
		IdentityTokenLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ibm_cloud_identity_token_latency_seconds",
			Help: "Latency of IBM Cloud identity token requests.",
		}),
		WCARequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "wca_request_latency_seconds",
			Help: "Latency of individual WCA HTTP requests.",
		}, []string{"endpoint"}),
		PreprocessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "preprocessing_latency_seconds",
			Help: "Latency of completion preprocessing.",
		}),
		PostprocessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "postprocessing_latency_seconds",
			Help: "Latency of completion postprocessing.",
		}),
		CompletionsReturnCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "completions_return_code",
			Help: "HTTP status codes returned by the completions endpoint.",
		}, []string{"code"}),
		ProcessErrorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "process_error_count",
			Help: "Errors raised by completion pipeline stages.",
		}, []string{"stage"}),
		HealthCheckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "health_check_failures_total",
			Help: "Failed dependency health probes.",
		}, []string{"dependency"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PredictionLatency,
		m.IdentityTokenLatency,
		m.WCARequestLatency,
		m.PreprocessLatency,
		m.PostprocessLatency,
		m.CompletionsReturnCode,
		m.ProcessErrorCount,
		m.HealthCheckFailures,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// The helpers below accept a nil receiver so components can run without metrics.

func (m *Metrics) ObservePrediction(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.PredictionLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveIdentityToken(d time.Duration) {
	if m == nil {
		return
	}
	m.IdentityTokenLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveWCARequest(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.WCARequestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) ObservePreprocess(d time.Duration) {
	if m == nil {
		return
	}
	m.PreprocessLatency.Observe(d.Seconds())
}

func (m *Metrics) ObservePostprocess(d time.Duration) {
	if m == nil {
		return
	}
	m.PostprocessLatency.Observe(d.Seconds())
}

func (m *Metrics) IncReturnCode(status int) {
	if m == nil {
		return
	}
	m.CompletionsReturnCode.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) IncProcessError(stage string) {
	if m == nil {
		return
	}
	m.ProcessErrorCount.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncHealthCheckFailure(dependency string) {
	if m == nil {
		return
	}
	m.HealthCheckFailures.WithLabelValues(dependency).Inc()
}
