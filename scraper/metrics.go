package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a crawl.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	BytesTotal      prometheus.Counter
	StealthWait     prometheus.Histogram
	BreaksTotal     prometheus.Counter
	TargetsTotal    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	QualityScore    prometheus.Histogram
	FrontierTargets *prometheus.GaugeVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Total HTTP requests issued by the fetcher.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	bytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_bytes_downloaded_total",
			Help: "Response bytes downloaded.",
		},
	)
	stealthWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_stealth_wait_seconds",
			Help:    "Adaptive delay inserted before requests.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 180, 600},
		},
	)
	breaks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_stealth_breaks_total",
			Help: "Number of stealth breaks taken.",
		},
	)
	targets := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_targets_total",
			Help: "Targets leaving the pipeline by outcome.",
		},
		[]string{"outcome"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	quality := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_quality_score",
			Help:    "Overall quality score of analysed pages.",
			Buckets: prometheus.LinearBuckets(10, 10, 9),
		},
	)
	frontier := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crawler_frontier_targets",
			Help: "Frontier targets by status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(requests, requestDuration, bytesTotal, stealthWait, breaks,
		targets, retries, errorsTotal, quality, frontier)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		BytesTotal:      bytesTotal,
		StealthWait:     stealthWait,
		BreaksTotal:     breaks,
		TargetsTotal:    targets,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		QualityScore:    quality,
		FrontierTargets: frontier,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddBytes counts downloaded bytes.
func (m *Metrics) AddBytes(n int) {
	if m == nil {
		return
	}
	m.BytesTotal.Add(float64(n))
}

// ObserveWait records a stealth delay.
func (m *Metrics) ObserveWait(d time.Duration, isBreak bool) {
	if m == nil {
		return
	}
	m.StealthWait.Observe(d.Seconds())
	if isBreak {
		m.BreaksTotal.Inc()
	}
}

// IncTarget counts a target leaving the pipeline.
func (m *Metrics) IncTarget(outcome string) {
	if m == nil {
		return
	}
	m.TargetsTotal.WithLabelValues(outcome).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveQuality records an overall quality score.
func (m *Metrics) ObserveQuality(score int) {
	if m == nil {
		return
	}
	m.QualityScore.Observe(float64(score))
}

// SetFrontier publishes frontier status counts.
func (m *Metrics) SetFrontier(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.FrontierTargets.WithLabelValues(status).Set(float64(n))
	}
}
