// Package metrics exposes Prometheus metrics for the recognition pipeline.
// Every method is safe to call on a nil *Manager so components can run
// without metrics in tests and CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "faceatt"

// Manager owns a private registry and the pipeline collectors.
type Manager struct {
	registry *prometheus.Registry

	framesCaptured prometheus.Counter
	framesDropped  prometheus.Counter
	framesFailed   prometheus.Counter
	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	faces          *prometheus.CounterVec // by status
	commits        prometheus.Counter
	errors         *prometheus.CounterVec // by kind
	notifications  *prometheus.CounterVec // by sink and result
	gallerySize    prometheus.Gauge
	galleryReloads *prometheus.CounterVec // by result
	livenessState  prometheus.Gauge
}

// NewManager creates a manager with Go runtime and process collectors registered.
func NewManager() *Manager {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auto := promauto.With(reg)

	return &Manager{
		registry: reg,
		framesCaptured: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_total",
			Help: "Frames read from the video source",
		}),
		framesDropped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frames_dropped_total",
			Help: "Frames overwritten in the mailbox before the inference loop took them",
		}),
		framesFailed: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "frame_errors_total",
			Help: "Failed frame reads",
		}),
		cycles: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "cycles_total",
			Help: "Detection cycles run on sampled frames",
		}),
		cycleDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "cycle_duration_seconds",
			Help:    "Duration of a detection cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		faces: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "faces_total",
			Help: "Faces processed by resulting status",
		}, []string{"status"}),
		commits: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "attendance", Name: "events_total",
			Help: "Attendance events committed",
		}),
		errors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		notifications: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "deliveries_total",
			Help: "Notification deliveries by sink and result",
		}, []string{"sink", "result"}),
		gallerySize: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gallery", Name: "identities",
			Help: "Identities in the active gallery snapshot",
		}),
		galleryReloads: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gallery", Name: "reloads_total",
			Help: "Gallery loads by result",
		}, []string{"result"}),
		livenessState: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "liveness", Name: "blinked",
			Help: "1 while the liveness gate is open",
		}),
	}
}

// Registry returns the private registry (used by tests).
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) FrameCaptured() {
	if m != nil {
		m.framesCaptured.Inc()
	}
}

func (m *Manager) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Manager) FrameFailed() {
	if m != nil {
		m.framesFailed.Inc()
	}
}

// CycleDone records one detection cycle.
func (m *Manager) CycleDone(d time.Duration) {
	if m != nil {
		m.cycles.Inc()
		m.cycleDuration.Observe(d.Seconds())
	}
}

func (m *Manager) Face(status string) {
	if m != nil {
		m.faces.WithLabelValues(status).Inc()
	}
}

func (m *Manager) EventCommitted() {
	if m != nil {
		m.commits.Inc()
	}
}

func (m *Manager) Error(kind string) {
	if m != nil {
		m.errors.WithLabelValues(kind).Inc()
	}
}

func (m *Manager) Notification(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(sink, result).Inc()
}

func (m *Manager) GalleryLoaded(size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.galleryReloads.WithLabelValues("error").Inc()
		return
	}
	m.galleryReloads.WithLabelValues("ok").Inc()
	m.gallerySize.Set(float64(size))
}

func (m *Manager) Liveness(open bool) {
	if m == nil {
		return
	}
	if open {
		m.livenessState.Set(1)
	} else {
		m.livenessState.Set(0)
	}
}
