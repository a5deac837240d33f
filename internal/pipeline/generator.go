package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/synth"
	"procodus.dev/aquamon/pkg/toggles"
)

// DefaultGeneratorInterval is the time between synthetic load ticks.
const DefaultGeneratorInterval = time.Second

// Generator is the synthetic load loop: while its toggle is enabled it
// inserts one plausible reading per registered node each tick, with a
// pre-drawn status that bypasses the classifier. Demonstration and load
// testing only.
type Generator struct {
	logger   *slog.Logger
	db       *gorm.DB
	toggles  *toggles.Toggles
	interval time.Duration
	metrics  *metrics.PipelineMetrics // Optional metrics
}

// GeneratorConfig holds the configuration for the Generator.
type GeneratorConfig struct {
	Logger  *slog.Logger
	DB      *gorm.DB
	Toggles *toggles.Toggles
	// Interval is the tick period (defaults to DefaultGeneratorInterval).
	Interval time.Duration
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewGenerator creates a new Generator instance.
func NewGenerator(cfg *GeneratorConfig) (*Generator, error) {
	if cfg == nil {
		return nil, errors.New("generator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	if cfg.Toggles == nil {
		return nil, errors.New("toggles cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultGeneratorInterval
	}

	return &Generator{
		logger:   cfg.Logger,
		db:       cfg.DB,
		toggles:  cfg.Toggles,
		interval: interval,
		metrics:  cfg.Metrics,
	}, nil
}

// Run ticks until the context is canceled. The toggle is checked every tick,
// so a disable takes effect within one interval.
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info("synthetic load generator started",
		"interval", g.interval,
		"enabled", g.toggles.GeneratorEnabled(),
	)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("synthetic load generator stopped")
			return
		case <-ticker.C:
			if !g.toggles.GeneratorEnabled() {
				continue
			}
			if err := g.Tick(ctx); err != nil {
				g.logger.Error("synthetic load tick failed", "error", err)
			}
		}
	}
}

// Tick inserts one synthetic reading per registered node. The whole sweep is
// one transaction: a failed insert rolls back the tick instead of leaving a
// partial sweep.
func (g *Generator) Tick(ctx context.Context) error {
	nodeIDs, err := store.NodeIDs(ctx, g.db)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, nodeID := range nodeIDs {
			r := synth.NewReading(now)
			reading := &store.Reading{
				NodeID:      nodeID,
				TDS:         r.TDS,
				PH:          r.PH,
				Humidity:    r.Humidity,
				Temperature: r.Temperature,
				Status:      &r.Status,
				Timestamp:   r.Timestamp,
			}
			if err := store.CreateReading(tx, reading); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.SyntheticReadings.Add(float64(len(nodeIDs)))
	}

	return nil
}

// SeedNodes fabricates count demo nodes so the generator has something to
// write against on a fresh database. Existing nodes are left untouched.
func SeedNodes(ctx context.Context, db *gorm.DB, logger *slog.Logger, count int) error {
	for i := 0; i < count; i++ {
		node := synth.NewNode()
		if node == nil {
			return fmt.Errorf("failed to fabricate demo node %d", i)
		}
		if _, err := store.EnsureNode(db.WithContext(ctx), node.NodeID,
			node.Latitude, node.Longitude, node.LastUpdated); err != nil {
			return err
		}
	}

	if count > 0 {
		logger.Info("seeded demo nodes", "count", count)
	}
	return nil
}
