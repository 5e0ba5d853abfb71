// Package metrics exports sync and playback state as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/session"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	offset        prometheus.Gauge
	level         prometheus.Gauge
	readings      *prometheus.CounterVec
	drift         prometheus.Gauge
	synchronizing prometheus.Gauge
	corrections   prometheus.Counter
	sessionErrors prometheus.Counter

	mu              sync.Mutex
	lastCorrections int64
	lastError       bool
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phaselock_offset_ms",
			Help: "Latest accepted clock offset (authoritative minus monotonic), in ms.",
		}),
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phaselock_offset_level",
			Help: "Accuracy level of the latest accepted reading (0 bad, 1 good, 2 perfect).",
		}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaselock_readings_total",
			Help: "Accepted readings by winning source.",
		}, []string{"source"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phaselock_playback_drift_ms",
			Help: "Target minus actual playback position at the last tick, in ms.",
		}),
		synchronizing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "phaselock_playback_synchronizing",
			Help: "1 while the controller is correcting drift.",
		}),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phaselock_playback_corrections_total",
			Help: "Corrective seeks issued.",
		}),
		sessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phaselock_session_errors_total",
			Help: "Sessions that ended with an error.",
		}),
	}

	reg.MustRegister(
		m.offset,
		m.level,
		m.readings,
		m.drift,
		m.synchronizing,
		m.corrections,
		m.sessionErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveReading(r model.TimeReading) {
	if !r.HasOffset() {
		return
	}
	m.offset.Set(float64(r.OffsetMs))
	m.level.Set(float64(model.Level(r)))
	m.readings.WithLabelValues(strconv.Itoa(r.SourceID)).Inc()
}

func (m *Metrics) ObserveSession(s session.Snapshot) {
	m.drift.Set(float64(s.DriftMs))
	if s.IsSynchronizing {
		m.synchronizing.Set(1)
	} else {
		m.synchronizing.Set(0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Corrections restart at zero with every session.
	if s.Corrections < m.lastCorrections {
		m.lastCorrections = 0
	}
	if d := s.Corrections - m.lastCorrections; d > 0 {
		m.corrections.Add(float64(d))
	}
	m.lastCorrections = s.Corrections

	if s.Error && !m.lastError {
		m.sessionErrors.Inc()
	}
	m.lastError = s.Error
}
