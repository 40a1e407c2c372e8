// Package metrics is the Metrics Sink component. It uses
// github.com/prometheus/client_golang directly rather than hand-rolling
// Prometheus text exposition (see DESIGN.md for why).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

type Sink struct {
	registry          *prometheus.Registry
	JobsCreated       *prometheus.CounterVec
	JobsSucceeded     *prometheus.CounterVec
	JobsFailed        *prometheus.CounterVec
	JobsTimeout       *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	ProviderPolls     *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	PollTickDuration  prometheus.Histogram
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	APIInflight       prometheus.Gauge
}

// New builds a Sink against its own private registry rather than
// prometheus's global default, so a process can safely construct more than
// one Sink (tests do this routinely) without a duplicate-registration panic.
func New() *Sink {
	s := &Sink{registry: prometheus.NewRegistry()}

	s.JobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Total generation jobs created.",
	}, []string{"tool_type", "model_key"})
	s.JobsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_succeeded_total",
		Help: "Total generation jobs that reached SUCCEEDED.",
	}, []string{"tool_type", "model_key"})
	s.JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total generation jobs that reached FAILED.",
	}, []string{"tool_type", "model_key", "error_code"})
	s.JobsTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_timeout_total",
		Help: "Total generation jobs that reached TIMEOUT.",
	}, []string{"tool_type", "model_key"})
	s.ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_errors_total",
		Help: "Total provider adapter errors by code.",
	}, []string{"error_type"})
	s.ProviderPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_polls_total",
		Help: "Total provider GetJobSet polls issued.",
	}, []string{"model_key", "status"})
	s.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Number of generation jobs currently PENDING or RUNNING.",
	})
	s.PollTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poll_tick_duration_seconds",
		Help:    "Wall-clock duration of a single poller tick.",
		Buckets: prometheus.DefBuckets,
	})
	s.APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total HTTP requests by method/route/status.",
	}, []string{"method", "route", "status"})
	s.APIRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "HTTP request latency by method/route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	s.APIInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "api_requests_inflight",
		Help: "In-flight HTTP requests.",
	})

	s.registry.MustRegister(
		s.JobsCreated, s.JobsSucceeded, s.JobsFailed, s.JobsTimeout,
		s.ProviderErrors, s.ProviderPolls, s.QueueDepth, s.PollTickDuration,
		s.APIRequestsTotal, s.APIRequestLatency, s.APIInflight,
	)
	return s
}

func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) ObserveAPI(method, route, status string, d time.Duration) {
	if s == nil {
		return
	}
	s.APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	s.APIRequestLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (s *Sink) APIInflightInc() {
	if s != nil {
		s.APIInflight.Inc()
	}
}

func (s *Sink) APIInflightDec() {
	if s != nil {
		s.APIInflight.Dec()
	}
}

func (s *Sink) ObserveProviderError(code string) {
	if s != nil {
		s.ProviderErrors.WithLabelValues(code).Inc()
	}
}

func (s *Sink) ObserveJobCreated(toolType, modelKey string) {
	if s != nil {
		s.JobsCreated.WithLabelValues(toolType, modelKey).Inc()
	}
}

func (s *Sink) ObserveJobSucceeded(toolType, modelKey string) {
	if s != nil {
		s.JobsSucceeded.WithLabelValues(toolType, modelKey).Inc()
	}
}

func (s *Sink) ObserveJobFailed(toolType, modelKey, errorCode string) {
	if s != nil {
		s.JobsFailed.WithLabelValues(toolType, modelKey, errorCode).Inc()
	}
}

func (s *Sink) ObserveJobTimeout(toolType, modelKey string) {
	if s != nil {
		s.JobsTimeout.WithLabelValues(toolType, modelKey).Inc()
	}
}

func (s *Sink) SetQueueDepth(n int64) {
	if s != nil {
		s.QueueDepth.Set(float64(n))
	}
}

func (s *Sink) ObserveProviderPoll(modelKey, status string) {
	if s != nil {
		s.ProviderPolls.WithLabelValues(modelKey, status).Inc()
	}
}
