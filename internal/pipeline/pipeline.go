package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/alert"
	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/toggles"
)

// Placeholder coordinates for nodes first sighted without explicit
// registration, matching the deployment's demo region.
const (
	placeholderLatBase = 10.0
	placeholderLonBase = 106.0
)

// Pipeline ingests measurement batches: it ensures node rows exist,
// classifies each measurement, persists the tagged readings in one
// transaction, and triggers the notification gate for adverse readings
// after the transaction commits.
type Pipeline struct {
	logger     *slog.Logger
	db         *gorm.DB
	classifier classify.Classifier
	gate       *alert.Gate
	toggles    *toggles.Toggles
	now        func() time.Time
	metrics    *metrics.PipelineMetrics // Optional metrics
}

// Config holds the configuration for the Pipeline.
type Config struct {
	Logger     *slog.Logger
	DB         *gorm.DB
	Classifier classify.Classifier
	Gate       *alert.Gate
	Toggles    *toggles.Toggles
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// New creates a new Pipeline instance.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	if cfg.Classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}

	if cfg.Gate == nil {
		return nil, errors.New("gate cannot be nil")
	}

	if cfg.Toggles == nil {
		return nil, errors.New("toggles cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Pipeline{
		logger:     cfg.Logger,
		db:         cfg.DB,
		classifier: cfg.Classifier,
		gate:       cfg.Gate,
		toggles:    cfg.Toggles,
		now:        now,
		metrics:    cfg.Metrics,
	}, nil
}

// Ingest applies one batch as a single unit of work. A malformed batch is
// rejected with ErrMalformedBatch before any write; any storage error rolls
// back the whole batch so partially-applied state is never visible. Adverse
// readings trigger the gate only after the transaction commits.
func (p *Pipeline) Ingest(ctx context.Context, batch Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.IngestDuration)
		defer timer.ObserveDuration()
	}

	// One gate invocation per adverse reading, collected during the
	// transaction and fired after commit.
	var adverseNodes []string

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range batch {
			created, err := store.EnsureNode(tx, entry.NodeID,
				placeholderLat(), placeholderLon(), p.now())
			if err != nil {
				return err
			}
			if created {
				p.logger.Info("registered node on first sighting",
					"node_id", entry.NodeID,
				)
				if p.metrics != nil {
					p.metrics.NodesCreated.Inc()
				}
			}

			for _, m := range entry.Data {
				status, err := p.classifier.Classify(ctx, classify.Measurement{
					TDS:         *m.TDS,
					PH:          *m.PH,
					Humidity:    *m.Humidity,
					Temperature: *m.Temperature,
				})
				if err != nil {
					return fmt.Errorf("classification failed: %w", err)
				}

				label := string(status)
				reading := &store.Reading{
					NodeID:      entry.NodeID,
					TDS:         *m.TDS,
					PH:          *m.PH,
					Humidity:    *m.Humidity,
					Temperature: *m.Temperature,
					Status:      &label,
					Timestamp:   time.Unix(*m.Timestamp, 0).UTC(),
				}
				if err := store.CreateReading(tx, reading); err != nil {
					return err
				}

				if p.metrics != nil {
					p.metrics.ReadingsIngested.WithLabelValues(label).Inc()
				}

				if status == classify.StatusBad {
					adverseNodes = append(adverseNodes, entry.NodeID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch ingestion failed: %w", err)
	}

	p.notifyAdverse(ctx, adverseNodes)

	return nil
}

// notifyAdverse invokes the gate once per adverse reading. Gate errors are
// logged, never surfaced to the ingestion caller.
func (p *Pipeline) notifyAdverse(ctx context.Context, nodeIDs []string) {
	if len(nodeIDs) == 0 || !p.toggles.NotificationsEnabled() {
		return
	}

	for _, nodeID := range nodeIDs {
		if err := p.gate.NotifyRecipients(ctx, nodeID, classify.StatusBad); err != nil {
			p.logger.Error("notification gate failed",
				"node_id", nodeID,
				"error", err,
			)
		}
	}
}

func placeholderLat() float64 {
	return placeholderLatBase + rand.Float64() // #nosec G404 - placeholder coordinates only
}

func placeholderLon() float64 {
	return placeholderLonBase + rand.Float64() // #nosec G404 - placeholder coordinates only
}
