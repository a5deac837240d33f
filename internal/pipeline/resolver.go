package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/alert"
	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/toggles"
)

// DefaultResolverInterval is the time between resolver sweep cycles.
const DefaultResolverInterval = 30 * time.Second

// Resolver is the self-healing sweep: it periodically assigns a status to
// readings left unclassified by the ingestion path. It uses the same
// classifier as ingestion, fed with the node's most recent unclassified
// values, and assigns one label per node per cycle.
type Resolver struct {
	logger     *slog.Logger
	db         *gorm.DB
	classifier classify.Classifier
	gate       *alert.Gate
	toggles    *toggles.Toggles
	interval   time.Duration
	metrics    *metrics.PipelineMetrics // Optional metrics
}

// ResolverConfig holds the configuration for the Resolver.
type ResolverConfig struct {
	Logger     *slog.Logger
	DB         *gorm.DB
	Classifier classify.Classifier
	Gate       *alert.Gate
	Toggles    *toggles.Toggles
	// Interval is the sweep period (defaults to DefaultResolverInterval).
	Interval time.Duration
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewResolver creates a new Resolver instance.
func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, errors.New("resolver config cannot be nil")
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

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultResolverInterval
	}

	return &Resolver{
		logger:     cfg.Logger,
		db:         cfg.DB,
		classifier: cfg.Classifier,
		gate:       cfg.Gate,
		toggles:    cfg.Toggles,
		interval:   interval,
		metrics:    cfg.Metrics,
	}, nil
}

// Run sweeps on the configured interval until the context is canceled.
// A failed cycle is logged and the loop proceeds to the next one.
func (r *Resolver) Run(ctx context.Context) {
	r.logger.Info("status resolver started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("status resolver stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("resolver sweep failed", "error", err)
				if r.metrics != nil {
					r.metrics.ResolverSweeps.WithLabelValues("error").Inc()
				}
				continue
			}
			if r.metrics != nil {
				r.metrics.ResolverSweeps.WithLabelValues("success").Inc()
			}
		}
	}
}

// Sweep runs one resolver cycle. With no unclassified readings present it is
// a no-op: no writes and no notifications.
func (r *Resolver) Sweep(ctx context.Context) error {
	nodeIDs, err := store.UnclassifiedNodeIDs(ctx, r.db)
	if err != nil {
		return err
	}

	for _, nodeID := range nodeIDs {
		if err := r.resolveNode(ctx, nodeID); err != nil {
			// One node failing must not starve the rest of the sweep.
			r.logger.Error("failed to resolve node",
				"node_id", nodeID,
				"error", err,
			)
		}
	}

	return nil
}

// resolveNode classifies the node's newest unclassified reading and claims
// every NULL-status row of that node with the resulting label. The claim is
// a single UPDATE ... WHERE status IS NULL, so a concurrent sweep or writer
// can never double-assign the same row.
func (r *Resolver) resolveNode(ctx context.Context, nodeID string) error {
	reading, err := store.LatestUnclassified(ctx, r.db, nodeID)
	if err != nil {
		return err
	}
	if reading == nil {
		// Another writer claimed the rows since the node list was taken.
		return nil
	}

	status, err := r.classifier.Classify(ctx, classify.Measurement{
		TDS:         reading.TDS,
		PH:          reading.PH,
		Humidity:    reading.Humidity,
		Temperature: reading.Temperature,
	})
	if err != nil {
		return err
	}

	claimed, err := store.ClaimUnclassified(ctx, r.db, nodeID, string(status))
	if err != nil {
		return err
	}
	if claimed == 0 {
		return nil
	}

	r.logger.Info("resolved unclassified readings",
		"node_id", nodeID,
		"status", string(status),
		"count", claimed,
	)
	if r.metrics != nil {
		r.metrics.ResolverClaimed.Add(float64(claimed))
	}

	if status == classify.StatusBad && r.toggles.NotificationsEnabled() {
		if err := r.gate.NotifyRecipients(ctx, nodeID, status); err != nil {
			r.logger.Error("notification gate failed",
				"node_id", nodeID,
				"error", err,
			)
		}
	}

	return nil
}
