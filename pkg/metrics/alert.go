package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AlertMetrics contains Prometheus metrics for the notification gate and
// the outbound notifier.
type AlertMetrics struct {
	GateInvocations      prometheus.Counter
	RecipientsEligible   prometheus.Histogram
	RecipientsSuppressed prometheus.Counter
	DispatchesTotal      *prometheus.CounterVec
	DispatchDuration     prometheus.Histogram
}

// NewAlertMetrics creates and registers alerting metrics.
func NewAlertMetrics(namespace string) *AlertMetrics {
	m := &AlertMetrics{
		GateInvocations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "gate_invocations_total",
				Help:      "Total number of notification gate invocations",
			},
		),
		RecipientsEligible: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "recipients_eligible",
				Help:      "Number of recipients eligible per gate invocation",
				Buckets:   prometheus.LinearBuckets(0, 5, 10),
			},
		),
		RecipientsSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "recipients_suppressed_total",
				Help:      "Total number of recipients suppressed by the rate-limit window",
			},
		),
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "dispatches_total",
				Help:      "Total number of alert dispatch attempts",
			},
			[]string{"status"}, // success, failure
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "alert",
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of individual alert dispatches",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.GateInvocations,
		m.RecipientsEligible,
		m.RecipientsSuppressed,
		m.DispatchesTotal,
		m.DispatchDuration,
	)

	return m
}
