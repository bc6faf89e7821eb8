// Package metrics exposes Prometheus collectors for the speech service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neutts"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	synthesis      *prometheus.CounterVec
	inferDuration  prometheus.Histogram
	encodeDuration *prometheus.HistogramVec
	audioSeconds   prometheus.Counter
	inflight       prometheus.Gauge
	queued         prometheus.Gauge

	voices         prometheus.Gauge
	voiceReloads   prometheus.Counter
	reloadDuration prometheus.Histogram

	ready           prometheus.Gauge
	archiveFailures prometheus.Counter
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route", "method"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Synthesis requests by response format and outcome.",
		}, []string{"format", "outcome"}),
		inferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Time spent in the backend per request.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32, 64},
		}),
		encodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time spent encoding PCM into the response format.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"format"}),
		audioSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_seconds_total",
			Help:      "Seconds of audio synthesized.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_inflight",
			Help:      "Inference calls currently running.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_queued",
			Help:      "Requests waiting for an inference slot.",
		}),
		voices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voices",
			Help:      "Voices currently available.",
		}),
		voiceReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_reloads_total",
			Help:      "Completed voice directory scans.",
		}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voice_reload_duration_seconds",
			Help:      "Duration of voice directory scans.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 once the model is loaded and voices are scanned.",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Encoded responses that could not be archived.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.synthesis, m.inferDuration, m.encodeDuration, m.audioSeconds, m.inflight, m.queued,
		m.voices, m.voiceReloads, m.reloadDuration,
		m.ready, m.archiveFailures,
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

// ObserveSynthesis records one synthesis attempt.
func (m *Metrics) ObserveSynthesis(format, outcome string) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(format, outcome).Inc()
}

// ObserveInference records backend time and the audio it produced.
func (m *Metrics) ObserveInference(took time.Duration, audioSeconds float64) {
	if m == nil {
		return
	}
	m.inferDuration.Observe(took.Seconds())
	m.audioSeconds.Add(audioSeconds)
}

// ObserveEncode records encoding time for a format.
func (m *Metrics) ObserveEncode(format string, took time.Duration) {
	if m == nil {
		return
	}
	m.encodeDuration.WithLabelValues(format).Observe(took.Seconds())
}

// InferenceStarted moves a request from the queue to running.
func (m *Metrics) InferenceStarted() {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.inflight.Inc()
}

// InferenceQueued counts a request waiting for a slot.
func (m *Metrics) InferenceQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

// InferenceAbandoned removes a request that gave up waiting.
func (m *Metrics) InferenceAbandoned() {
	if m == nil {
		return
	}
	m.queued.Dec()
}

// InferenceFinished counts a running request as done.
func (m *Metrics) InferenceFinished() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// ObserveVoiceReload records a completed voice scan.
func (m *Metrics) ObserveVoiceReload(voices int, took time.Duration) {
	if m == nil {
		return
	}
	m.voices.Set(float64(voices))
	m.voiceReloads.Inc()
	m.reloadDuration.Observe(took.Seconds())
}

// SetReady exports the readiness state.
func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ready.Set(1)
	} else {
		m.ready.Set(0)
	}
}

// ArchiveFailed counts a failed archive upload.
func (m *Metrics) ArchiveFailed() {
	if m == nil {
		return
	}
	m.archiveFailures.Inc()
}
