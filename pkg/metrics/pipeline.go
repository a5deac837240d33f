package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the ingestion pipeline and
// its background loops.
type PipelineMetrics struct {
	BatchesIngested      *prometheus.CounterVec
	ReadingsIngested     *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	ClassificationsTotal *prometheus.CounterVec
	NodesCreated         prometheus.Counter
	ResolverSweeps       *prometheus.CounterVec
	ResolverClaimed      prometheus.Counter
	SyntheticReadings    prometheus.Counter
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(namespace string) *PipelineMetrics {
	m := &PipelineMetrics{
		BatchesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "batches_total",
				Help:      "Total number of ingestion batches processed",
			},
			[]string{"source", "status"}, // source: webhook, mq; status: success, rejected, error
		),
		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "readings_total",
				Help:      "Total number of readings persisted",
			},
			[]string{"status"}, // GOOD, WARNING, BAD
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "ingest_duration_seconds",
				Help:      "Duration of batch ingestion including classification",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "classifier",
				Name:      "classifications_total",
				Help:      "Total number of classifications by path",
			},
			[]string{"path", "status"}, // path: remote, rules
		),
		NodesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "nodes_created_total",
				Help:      "Total number of nodes auto-registered on first sighting",
			},
		),
		ResolverSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "sweeps_total",
				Help:      "Total number of resolver sweep cycles",
			},
			[]string{"status"}, // success, error
		),
		ResolverClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "readings_claimed_total",
				Help:      "Total number of unclassified readings claimed by the resolver",
			},
		),
		SyntheticReadings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "synthetic_readings_total",
				Help:      "Total number of synthetic readings generated",
			},
		),
	}

	MustRegister(
		m.BatchesIngested,
		m.ReadingsIngested,
		m.IngestDuration,
		m.ClassificationsTotal,
		m.NodesCreated,
		m.ResolverSweeps,
		m.ResolverClaimed,
		m.SyntheticReadings,
	)

	return m
}
