package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/capture"
	"qrattend/internal/ledger"
)

const namespace = "qrattend"

// Metrics owns a private registry so tests and multiple stations in one
// process never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	codesDetected  prometheus.Counter
	outcomes       *prometheus.CounterVec
	writeDuration  prometheus.Histogram
	captureErrors  *prometheus.CounterVec
	sessionRunning prometheus.Gauge

	pollTicks    prometheus.Counter
	pollDuration prometheus.Histogram
	pollFailures *prometheus.CounterVec
	changes      *prometheus.CounterVec

	feedEvents *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		codesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "codes_accepted_total",
			Help:      "Codes that passed the cooldown gate.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "record_outcomes_total",
			Help:      "Attendance writes by outcome.",
		}, []string{"outcome"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "record_duration_seconds",
			Help:      "Latency of attendance writes issued by the capture loop.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		captureErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "errors_total",
			Help:      "Capture loop errors by kind.",
		}, []string{"kind"}),
		sessionRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "session_running",
			Help:      "1 while the capture session is running.",
		}),
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Completed poll ticks.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "tick_duration_seconds",
			Help:      "Time spent sampling all sources in one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "source_failures_total",
			Help:      "Failed samples by source.",
		}, []string{"source"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "changes_total",
			Help:      "Change notifications delivered by type.",
		}, []string{"type"}),
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Events published to the feed by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.codesDetected,
		m.outcomes,
		m.writeDuration,
		m.captureErrors,
		m.sessionRunning,
		m.pollTicks,
		m.pollDuration,
		m.pollFailures,
		m.changes,
		m.feedEvents,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGaugeFunc exposes a value computed at scrape time.
func (m *Metrics) RegisterGaugeFunc(subsystem, name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// CodeAccepted counts a detection that passed the gate.
func (m *Metrics) CodeAccepted() {
	m.codesDetected.Inc()
}

// RecordOutcome counts a completed write and its latency.
func (m *Metrics) RecordOutcome(outcome ledger.Outcome, d time.Duration) {
	m.outcomes.WithLabelValues(outcome.String()).Inc()
	m.writeDuration.Observe(d.Seconds())
}

// CaptureError counts err under a kind derived from its type.
func (m *Metrics) CaptureError(err error) {
	m.captureErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// DecodeError counts a decoder failure.
func (m *Metrics) DecodeError(error) {
	m.captureErrors.WithLabelValues("decode").Inc()
}

// SessionRunning sets the session gauge.
func (m *Metrics) SessionRunning(running bool) {
	if running {
		m.sessionRunning.Set(1)
		return
	}
	m.sessionRunning.Set(0)
}

// TickCompleted implements poller.Instruments.
func (m *Metrics) TickCompleted(d time.Duration) {
	m.pollTicks.Inc()
	m.pollDuration.Observe(d.Seconds())
}

// TickFailed implements poller.Instruments.
func (m *Metrics) TickFailed(source string) {
	m.pollFailures.WithLabelValues(source).Inc()
}

// ChangeDelivered implements poller.Instruments.
func (m *Metrics) ChangeDelivered(changeType string) {
	m.changes.WithLabelValues(changeType).Inc()
}

// FeedPublished counts a feed event.
func (m *Metrics) FeedPublished(eventType string) {
	m.feedEvents.WithLabelValues(eventType).Inc()
}

// ErrorKind classifies capture and ledger errors for labels.
func ErrorKind(err error) string {
	var (
		abortErr  *capture.AbortError
		readErr   *capture.FrameReadError
		decodeErr *capture.DecodeError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &abortErr):
		return "abort"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return "device"
	case errors.As(err, &readErr):
		return "frame_read"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.Is(err, ledger.ErrStorage):
		return "storage"
	case errors.Is(err, ledger.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ledger.ErrUnknownSlot), errors.Is(err, ledger.ErrInvalidInput):
		return "invalid"
	default:
		return "other"
	}
}
