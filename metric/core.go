package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core ingestion metrics
type Metrics struct {
	// Ingestion metrics
	PointsAccepted    *prometheus.CounterVec
	PointsRejected    *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	BatchSize         *prometheus.HistogramVec
	ValidationSeconds *prometheus.HistogramVec

	// Registry metrics
	StreamsRegistered   prometheus.Counter
	ObserversRegistered prometheus.Counter

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PointsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "ingest",
				Name:      "points_accepted_total",
				Help:      "Total number of points validated and stored",
			},
			[]string{"stream"},
		),

		PointsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "ingest",
				Name:      "points_rejected_total",
				Help:      "Total number of points rejected during validation",
			},
			[]string{"stream", "reason"},
		),

		DuplicatesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "ingest",
				Name:      "duplicates_skipped_total",
				Help:      "Total number of resubmitted points skipped as already stored",
			},
			[]string{"stream"},
		),

		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streambank",
				Subsystem: "ingest",
				Name:      "batch_size",
				Help:      "Number of points per upload batch",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"stream"},
		),

		ValidationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streambank",
				Subsystem: "ingest",
				Name:      "validation_duration_seconds",
				Help:      "Time spent decoding and validating one batch",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stream"},
		),

		StreamsRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "registry",
				Name:      "streams_registered_total",
				Help:      "Total number of stream schema versions registered",
			},
		),

		ObserversRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "registry",
				Name:      "observers_registered_total",
				Help:      "Total number of observer definitions registered",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streambank",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streambank",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PointsAccepted,
		m.PointsRejected,
		m.DuplicatesSkipped,
		m.BatchSize,
		m.ValidationSeconds,
		m.StreamsRegistered,
		m.ObserversRegistered,
		m.NATSConnected,
		m.NATSReconnects,
	}
}
