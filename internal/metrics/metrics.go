// Package metrics exposes capture statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/videocap/internal/events"
)

const namespace = "videocap"

// Metrics holds the capture collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	frames    *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	reopens   *prometheus.CounterVec
	wait      *prometheus.HistogramVec
	streaming *prometheus.GaugeVec
}

// New registers the capture collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Frames consumed from the device",
		}, []string{"device"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "bytes_total",
			Help:      "Frame bytes reported by the driver",
		}, []string{"device"}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "timeouts_total",
			Help:      "Polls that timed out waiting for a frame",
		}, []string{"device"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "errors_total",
			Help:      "Failed opens and polls, by error kind",
		}, []string{"device", "kind"}),
		reopens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "reopens_total",
			Help:      "Sessions closed and scheduled for reopening",
		}, []string{"device"}),
		wait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "poll_duration_seconds",
			Help:      "Time spent waiting for each frame",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"device"}),
		streaming: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "streaming",
			Help:      "Whether the device session is streaming (1) or not (0)",
		}, []string{"device"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Subscribe feeds the collectors from bus. The returned function
// unsubscribes.
func (m *Metrics) Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(m.ObserveFrame),
		bus.Subscribe(m.ObserveError),
		bus.Subscribe(m.ObserveState),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// ObserveFrame records one captured frame.
func (m *Metrics) ObserveFrame(e events.FrameCapturedEvent) {
	m.frames.WithLabelValues(e.Device).Inc()
	m.bytes.WithLabelValues(e.Device).Add(float64(e.Bytes))
	m.wait.WithLabelValues(e.Device).Observe(e.Wait.Seconds())
}

// ObserveError records a failed open or poll. Timeouts are counted
// separately from other errors.
func (m *Metrics) ObserveError(e events.CaptureErrorEvent) {
	if e.Kind == "timeout" {
		m.timeouts.WithLabelValues(e.Device).Inc()
		return
	}
	m.errors.WithLabelValues(e.Device, e.Kind).Inc()
}

// ObserveState tracks session transitions.
func (m *Metrics) ObserveState(e events.SessionStateEvent) {
	switch e.State {
	case events.StateStreaming:
		m.streaming.WithLabelValues(e.Device).Set(1)
	case events.StateReopening:
		m.streaming.WithLabelValues(e.Device).Set(0)
		m.reopens.WithLabelValues(e.Device).Inc()
	default:
		m.streaming.WithLabelValues(e.Device).Set(0)
	}
}
