package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"procodus.dev/aquamon/internal/classify"
	"procodus.dev/aquamon/internal/store"
	"procodus.dev/aquamon/pkg/metrics"
)

// DefaultRateLimitWindow is the minimum interval between two notifications
// to the same recipient.
const DefaultRateLimitWindow = 60 * time.Second

// Gate decides which recipients receive an alert and records delivery
// outcomes. Eligibility is global per recipient: a recipient notified for
// one node within the window is suppressed for every node.
type Gate struct {
	logger  *slog.Logger
	db      *gorm.DB
	sender  Sender
	window  time.Duration
	now     func() time.Time
	metrics *metrics.AlertMetrics // Optional metrics
}

// GateConfig holds the configuration for the Gate.
type GateConfig struct {
	Logger *slog.Logger
	DB     *gorm.DB
	Sender Sender
	// Window is the rate-limit window (defaults to DefaultRateLimitWindow).
	Window time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.AlertMetrics
}

// NewGate creates a new Gate instance.
func NewGate(cfg *GateConfig) (*Gate, error) {
	if cfg == nil {
		return nil, errors.New("gate config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}

	if cfg.Sender == nil {
		return nil, errors.New("sender cannot be nil")
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultRateLimitWindow
	}

	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Gate{
		logger:  cfg.Logger,
		db:      cfg.DB,
		sender:  cfg.Sender,
		window:  window,
		now:     now,
		metrics: cfg.Metrics,
	}, nil
}

// NotifyRecipients dispatches the alert to every eligible recipient. A
// recipient's last_notified_at advances only on successful dispatch, so a
// failed recipient stays eligible for the next triggering event. Failures
// are isolated per recipient and never abort the remaining dispatches.
func (g *Gate) NotifyRecipients(ctx context.Context, nodeID string, status classify.Status) error {
	if g.metrics != nil {
		g.metrics.GateInvocations.Inc()
	}

	cutoff := g.now().Add(-g.window)
	eligible, err := store.EligibleRecipients(ctx, g.db, cutoff)
	if err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.RecipientsEligible.Observe(float64(len(eligible)))

		total, countErr := store.CountRecipients(ctx, g.db)
		if countErr == nil {
			g.metrics.RecipientsSuppressed.Add(float64(total - int64(len(eligible))))
		}
	}

	if len(eligible) == 0 {
		g.logger.Debug("no eligible recipients",
			"node_id", nodeID,
			"status", string(status),
		)
		return nil
	}

	for _, recipient := range eligible {
		g.dispatch(ctx, recipient, nodeID, status)
	}

	return nil
}

// dispatch sends to one recipient and records the outcome.
func (g *Gate) dispatch(ctx context.Context, recipient store.Recipient, nodeID string, status classify.Status) {
	var timer *prometheus.Timer
	if g.metrics != nil {
		timer = prometheus.NewTimer(g.metrics.DispatchDuration)
	}

	err := g.sender.Send(ctx, recipient.Address, nodeID, status)

	if timer != nil {
		timer.ObserveDuration()
	}

	if err != nil {
		g.logger.Error("alert dispatch failed",
			"recipient", recipient.Address,
			"node_id", nodeID,
			"error", err,
		)
		if g.metrics != nil {
			g.metrics.DispatchesTotal.WithLabelValues("failure").Inc()
		}
		// Recipient stays eligible; the next triggering event retries.
		return
	}

	dispatchedAt := g.now()
	if err := store.MarkNotified(ctx, g.db, recipient.ID, dispatchedAt); err != nil {
		g.logger.Error("failed to record notification time",
			"recipient", recipient.Address,
			"error", err,
		)
	}

	if g.metrics != nil {
		g.metrics.DispatchesTotal.WithLabelValues("success").Inc()
	}

	g.logger.Info("alert dispatched",
		"recipient", recipient.Address,
		"node_id", nodeID,
		"status", string(status),
	)
}
