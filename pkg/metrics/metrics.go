// Package metrics exposes the service's Prometheus instrumentation: frame
// throughput, publish outcomes, queue drops, and command activity.
//
// Grounded on 99souls-ariadne/engine/monitoring/monitoring.go's
// PrometheusExporter: a dedicated prometheus.Registry plus CounterVec/Gauge
// collectors registered at construction time, served over promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service updates. A nil *Metrics is not
// valid; use New, which builds its own registry, so tests can construct one
// without serving an HTTP endpoint.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed   prometheus.Counter
	FramesDropped     prometheus.Counter
	DetectionsFound   prometheus.Counter
	PublishAttempts   *prometheus.CounterVec // labels: channel, outcome
	PublishQueueDrops prometheus.Counter
	PublishQueueDepth prometheus.Gauge
	CommandsExecuted  *prometheus.CounterVec // labels: command, outcome
	ModelSwaps        prometheus.Counter
	ZoneEvaluations   prometheus.Counter
}

const namespace = "streamproc"

// New builds a Metrics instance with its own registry and registers every
// collector.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_processed_total",
			Help: "Total number of frames that completed detection, tracking, and zone evaluation.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_dropped_total",
			Help: "Total number of frames dropped because no model was loaded or detection, tracking, or zone evaluation failed.",
		}),
		DetectionsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "detections_total",
			Help: "Total number of detections produced across all frames.",
		}),
		PublishAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_attempts_total",
			Help: "Publish attempts by data-plane channel and outcome.",
		}, []string{"channel", "outcome"}),
		PublishQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_queue_drops_total",
			Help: "Total number of envelopes dropped because the publish queue was full.",
		}),
		PublishQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "publish_queue_depth",
			Help: "Current number of envelopes waiting in the publish queue.",
		}),
		CommandsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_executed_total",
			Help: "Control-plane commands executed by name and outcome.",
		}, []string{"command", "outcome"}),
		ModelSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_swaps_total",
			Help: "Total number of successful detector model swaps.",
		}),
		ZoneEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "zone_evaluations_total",
			Help: "Total number of per-zone evaluations (one per enabled zone per processed frame).",
		}),
	}

	registry.MustRegister(
		m.FramesProcessed,
		m.FramesDropped,
		m.DetectionsFound,
		m.PublishAttempts,
		m.PublishQueueDrops,
		m.PublishQueueDepth,
		m.CommandsExecuted,
		m.ModelSwaps,
		m.ZoneEvaluations,
	)

	return m
}

// Handler returns the HTTP handler serving this instance's metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
