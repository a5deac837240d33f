package classify

import (
	"context"
	"errors"
	"log/slog"

	"procodus.dev/aquamon/pkg/metrics"
)

// Fallback composes a primary classifier over the rule-based one. It is a
// total function: a primary failure is logged and the rules decide instead,
// so callers never see an error.
type Fallback struct {
	logger  *slog.Logger
	primary Classifier
	rules   *RuleBased
	metrics *metrics.PipelineMetrics // Optional metrics
}

// FallbackConfig holds the configuration for the Fallback chain.
type FallbackConfig struct {
	Logger *slog.Logger
	// Primary is the preferred classifier; nil means rules only (e.g. no
	// prediction endpoint was configured at startup).
	Primary Classifier
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
}

// NewFallback creates the fallback chain.
func NewFallback(cfg *FallbackConfig) (*Fallback, error) {
	if cfg == nil {
		return nil, errors.New("fallback config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Fallback{
		logger:  cfg.Logger,
		primary: cfg.Primary,
		rules:   NewRuleBased(),
		metrics: cfg.Metrics,
	}, nil
}

// Classify tries the primary classifier and falls back to the threshold
// rules on any failure. The returned error is always nil.
func (f *Fallback) Classify(ctx context.Context, m Measurement) (Status, error) {
	if f.primary != nil {
		status, err := f.primary.Classify(ctx, m)
		if err == nil {
			if f.metrics != nil {
				f.metrics.ClassificationsTotal.WithLabelValues("remote", string(status)).Inc()
			}
			return status, nil
		}

		f.logger.Warn("remote classification failed, using rules",
			"error", err,
		)
	}

	status, _ := f.rules.Classify(ctx, m)
	if f.metrics != nil {
		f.metrics.ClassificationsTotal.WithLabelValues("rules", string(status)).Inc()
	}
	return status, nil
}
