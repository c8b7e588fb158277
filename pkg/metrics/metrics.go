package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handshake and rekey result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "hybridkex"

// HandshakeDurationBuckets covers handshakes from sub-millisecond classical
// exchanges up to slow triple hybrids over a WAN (seconds).
var HandshakeDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Labels are constant labels attached to every metric of a collector.
type Labels map[string]string

// Collector aggregates handshake and session metrics in its own prometheus
// registry.
type Collector struct {
	registry *prometheus.Registry

	handshakes        *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	handshakeErrors   *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionBytes      *prometheus.CounterVec
	records           *prometheus.CounterVec
	rekeys            *prometheus.CounterVec
	framesRejected    prometheus.Counter
	connsRejected     prometheus.Counter
}

// NewCollector creates a collector. An empty namespace uses DefaultNamespace.
func NewCollector(namespace string, labels Labels) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	constLabels := prometheus.Labels(labels)

	c := &Collector{
		registry: prometheus.NewRegistry(),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handshakes_total",
			Help:        "Completed handshakes by exchange mode and result.",
			ConstLabels: constLabels,
		}, []string{"mode", "result"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "handshake_duration_seconds",
			Help:        "Handshake latency by exchange mode.",
			Buckets:     HandshakeDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"mode"}),
		handshakeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handshake_errors_total",
			Help:        "Failed handshakes by error kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "sessions_active",
			Help:        "Established sessions currently open.",
			ConstLabels: constLabels,
		}),
		sessionBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "session_bytes_total",
			Help:        "Record bytes on the wire by direction.",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "session_records_total",
			Help:        "Records by direction.",
			ConstLabels: constLabels,
		}, []string{"direction"}),
		rekeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rekeys_total",
			Help:        "Rekeys by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		framesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_rejected_total",
			Help:        "Frames dropped as malformed, unexpected or failing authentication.",
			ConstLabels: constLabels,
		}),
		connsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connections_rejected_total",
			Help:        "Connections refused by connection or rate limits.",
			ConstLabels: constLabels,
		}),
	}

	c.registry.MustRegister(
		c.handshakes,
		c.handshakeDuration,
		c.handshakeErrors,
		c.sessionsActive,
		c.sessionBytes,
		c.records,
		c.rekeys,
		c.framesRejected,
		c.connsRejected,
	)
	return c
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors.
func (c *Collector) RegisterRuntimeCollectors() error {
	if err := c.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	return c.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// HandshakeCompleted records a successful handshake.
func (c *Collector) HandshakeCompleted(mode string, d time.Duration) {
	c.handshakes.WithLabelValues(mode, ResultSuccess).Inc()
	c.handshakeDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// HandshakeFailed records a failed handshake. kind is the error kind name.
func (c *Collector) HandshakeFailed(mode, kind string, d time.Duration) {
	c.handshakes.WithLabelValues(mode, ResultFailure).Inc()
	c.handshakeDuration.WithLabelValues(mode).Observe(d.Seconds())
	c.handshakeErrors.WithLabelValues(kind).Inc()
}

// SessionStarted increments the active session gauge.
func (c *Collector) SessionStarted() {
	c.sessionsActive.Inc()
}

// SessionEnded decrements the active session gauge.
func (c *Collector) SessionEnded() {
	c.sessionsActive.Dec()
}

// RecordTraffic counts one record of n wire bytes.
func (c *Collector) RecordTraffic(direction string, n int) {
	c.records.WithLabelValues(direction).Inc()
	c.sessionBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordRekey counts a rekey outcome.
func (c *Collector) RecordRekey(err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.rekeys.WithLabelValues(result).Inc()
}

// FrameRejected counts a frame dropped by the protocol layer.
func (c *Collector) FrameRejected() {
	c.framesRejected.Inc()
}

// ConnectionRejected counts a refused connection.
func (c *Collector) ConnectionRejected() {
	c.connsRejected.Inc()
}

// --- Global Collector ---

var (
	globalCollector   *Collector
	globalCollectorMu sync.Mutex
)

// Global returns the global collector, creating one on first use.
func Global() *Collector {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(DefaultNamespace, nil)
	}
	return globalCollector
}

// SetGlobal replaces the global collector.
func SetGlobal(c *Collector) {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	globalCollector = c
}
