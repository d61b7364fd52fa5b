package mongobase

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, a fresh registry is created
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

func (p *PrometheusMetrics) counter(metric, subsystem, name, help string, labels ...string) {
	p.counters[metric] = promauto.With(p.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mongobase",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// registerDefaultMetrics registers all standard metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	p.counter(MetricSessionStarted, "session", "started_total", "Total number of sessions started")
	p.counter(MetricSessionEnded, "session", "ended_total", "Total number of sessions ended")
	p.counter(MetricSessionErrors, "session", "errors_total", "Total number of failed session starts", "operation")

	p.counter(MetricTransactionStarted, "transaction", "started_total", "Total number of transactions started")
	p.counter(MetricTransactionCommitted, "transaction", "committed_total", "Total number of committed transactions")
	p.counter(MetricTransactionAborted, "transaction", "aborted_total", "Total number of aborted transactions")
	p.counter(MetricTransactionErrors, "transaction", "errors_total", "Total number of failed transaction transitions", "operation")

	p.counter(MetricDiscoveryCalls, "discovery", "calls_total", "Total number of collection discovery calls")
	p.counter(MetricDiscoveryErrors, "discovery", "errors_total", "Total number of failed collection discovery calls")

	p.counter(MetricCacheHits, "cache", "hits_total", "Total number of shared cache hits", "cache")
	p.counter(MetricCacheMisses, "cache", "misses_total", "Total number of shared cache misses", "cache")

	p.counter(MetricCommandSucceeded, "command", "succeeded_total", "Total number of succeeded driver commands", "command")
	p.counter(MetricCommandFailed, "command", "failed_total", "Total number of failed driver commands", "command")

	p.histograms[MetricCommandDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mongobase",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Driver command duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"command"},
	)

	p.histograms[MetricTransactionDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mongobase",
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Time between transaction start and commit or abort",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	p.histograms[MetricDiscoveryDuration] = promauto.With(p.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mongobase",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Collection discovery duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{},
	)

	p.gauges[MetricSharedClients] = promauto.With(p.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mongobase",
			Subsystem: "cache",
			Name:      "clients",
			Help:      "Number of shared driver clients",
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mongobase",
				Name:      dynamicName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	if c, err := counter.GetMetricWith(p.extractLabelValues(tags)); err == nil {
		c.Inc()
	}
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mongobase",
				Name:      dynamicName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	if g, err := gauge.GetMetricWith(p.extractLabelValues(tags)); err == nil {
		g.Set(value)
	}
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mongobase",
				Name:      dynamicName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	if h, err := histogram.GetMetricWith(p.extractLabelValues(tags)); err == nil {
		h.Observe(value)
	}
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// dynamicName turns "mongobase.foo.bar" into a valid metric name
func dynamicName(name string) string {
	name = strings.TrimPrefix(name, "mongobase.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
