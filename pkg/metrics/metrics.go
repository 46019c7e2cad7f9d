// Package metrics exposes the pipeline's Prometheus instrumentation
// (§6: "metrics" ambient concern carried regardless of feature
// non-goals). The teacher repo only carries client_golang as an
// indirect, transitively-pulled dependency with no direct usage
// anywhere in its own code, so this package has no teacher code to
// adapt from; it is built directly against prometheus/client_golang's
// standard registry/collector API, the same library every other
// example in the pack that touches metrics at all pulls in.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every gauge/counter the pipeline stages and the
// outbound event bus update, registered against a private
// prometheus.Registry so tests can construct one without colliding with
// the global default registry.
type Registry struct {
	reg *prometheus.Registry

	stageThroughput *prometheus.CounterVec
	stageLatency    *prometheus.HistogramVec
	ringDepth       *prometheus.GaugeVec
	walAppends      *prometheus.CounterVec
	walBytes        *prometheus.CounterVec
	snapshotWrites  *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Registry{
		reg: reg,
		stageThroughput: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "stage_items_processed_total",
			Help:      "Items processed by each pipeline stage.",
		}, []string{"stage"}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Name:      "stage_item_latency_seconds",
			Help:      "Per-item processing latency within a pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12), // 1us .. ~4.2s spread
		}, []string{"stage"}),
		ringDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "matchcore",
			Name:      "ring_depth",
			Help:      "Current occupancy of an inter-stage ring.",
		}, []string{"ring"}),
		walAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "wal_appends_total",
			Help:      "WAL entries appended by each stage.",
		}, []string{"stage"}),
		walBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "wal_bytes_written_total",
			Help:      "WAL bytes written by each stage.",
		}, []string{"stage"}),
		snapshotWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "snapshot_writes_total",
			Help:      "Periodic snapshots written by each stage.",
		}, []string{"stage"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected at pre-trade admission, by reason.",
		}, []string{"reason"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "events_dropped_total",
			Help:      "Outbound events dropped from a saturated subscriber channel.",
		}, []string{"subscriber"}),
	}
	return m
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }

func (m *Registry) ObserveStageItem(stage string, latencySeconds float64) {
	m.stageThroughput.WithLabelValues(stage).Inc()
	m.stageLatency.WithLabelValues(stage).Observe(latencySeconds)
}

func (m *Registry) SetRingDepth(ring string, depth int) {
	m.ringDepth.WithLabelValues(ring).Set(float64(depth))
}

func (m *Registry) AddWALAppend(stage string, bytes int) {
	m.walAppends.WithLabelValues(stage).Inc()
	m.walBytes.WithLabelValues(stage).Add(float64(bytes))
}

func (m *Registry) AddSnapshotWrite(stage string) {
	m.snapshotWrites.WithLabelValues(stage).Inc()
}

func (m *Registry) AddRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

// IncEventsDropped implements events.DroppedCounter, letting pkg/events
// stay free of a hard dependency on this package (§9, narrow capability
// interfaces).
func (m *Registry) IncEventsDropped(subscriber string) {
	m.eventsDropped.WithLabelValues(subscriber).Inc()
}
