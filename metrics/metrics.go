// Package metrics bundles the Prometheus collectors for the daemon. All
// components take an optional *Metrics; every method is nil-receiver safe so
// wiring stays optional in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	visiblePriority prometheus.Gauge
	activeSources   prometheus.Gauge
	muxerEvents     *prometheus.CounterVec
	framesWritten   prometheus.Counter
	effectRuns      prometheus.Counter
	boblightConns   prometheus.Gauge
	grabberFrames   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		visiblePriority: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mux_visible_priority",
			Help: "Priority currently painted onto the strip.",
		}),
		activeSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mux_active_sources",
			Help: "Number of slots taking part in selection.",
		}),
		muxerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mux_events_total",
			Help: "Change notifications emitted by the muxer.",
		}, []string{"kind"}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "output_frames_written_total",
			Help: "Frames transmitted to the LED writer.",
		}),
		effectRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "effect_runs_total",
			Help: "Effect script runs started.",
		}),
		boblightConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boblight_connections",
			Help: "Open boblight client connections.",
		}),
		grabberFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grabber_frames_total",
			Help: "Screen frames captured and pushed into the muxer.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.visiblePriority,
		m.activeSources,
		m.muxerEvents,
		m.framesWritten,
		m.effectRuns,
		m.boblightConns,
		m.grabberFrames,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent implements muxer.Recorder.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.muxerEvents.WithLabelValues(kind).Inc()
}

// RecordVisible implements muxer.Recorder.
func (m *Metrics) RecordVisible(priority int) {
	if m == nil {
		return
	}
	m.visiblePriority.Set(float64(priority))
}

// RecordActive implements muxer.Recorder.
func (m *Metrics) RecordActive(sources int) {
	if m == nil {
		return
	}
	m.activeSources.Set(float64(sources))
}

func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.framesWritten.Inc()
}

func (m *Metrics) RecordEffectRun() {
	if m == nil {
		return
	}
	m.effectRuns.Inc()
}

func (m *Metrics) RecordGrabberFrame() {
	if m == nil {
		return
	}
	m.grabberFrames.Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.boblightConns.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.boblightConns.Dec()
}
