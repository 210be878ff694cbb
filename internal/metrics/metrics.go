// Package metrics exposes Prometheus counters for the feedback API on a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lumen_api"

// Download outcomes.
const (
	DownloadTracked      = "tracked"
	DownloadDeduplicated = "deduplicated"
	DownloadLimited      = "rate_limited"
)

type Metrics struct {
	registry *prometheus.Registry

	feedbackSubmitted *prometheus.CounterVec
	syncRuns          *prometheus.CounterVec
	syncChanges       *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: type, source (app, manual)
		feedbackSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "submitted_total",
			Help:      "Feedback items accepted through the public endpoint",
		}, []string{"type", "source"}),
		// Labels: source (github, featurebase), status (ok, skipped, disabled, error)
		syncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "source_runs_total",
			Help:      "External sync passes by source and outcome",
		}, []string{"source", "status"}),
		syncChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "changes_total",
			Help:      "Rows inserted, updated, reopened or resolved by external sync",
		}, []string{"source"}),
		// Labels: outcome (tracked, deduplicated, rate_limited)
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "downloads",
			Name:      "requests_total",
			Help:      "Download tracking requests by outcome",
		}, []string{"outcome"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"method"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FeedbackSubmitted(feedbackType, source string) {
	if m == nil {
		return
	}
	m.feedbackSubmitted.WithLabelValues(feedbackType, source).Inc()
}

// ObserveSync satisfies the extsync observer hook.
func (m *Metrics) ObserveSync(source, status string, changes int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(source, status).Inc()
	if changes > 0 {
		m.syncChanges.WithLabelValues(source).Add(float64(changes))
	}
}

func (m *Metrics) Download(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
