// Package toggles provides a thread-safe cell of process-wide runtime toggles.
package toggles

import "sync/atomic"

// Known toggle names, as exposed on the control surface.
const (
	Notifications = "notifications"
	Webhook       = "webhook"
	Generator     = "generator"
)

// Toggles holds the three runtime switches shared by the pipeline, the HTTP
// API and the background loops. Reads and writes are atomic; a flip may race
// an in-flight operation that already observed the old value, which is
// acceptable for these switches.
type Toggles struct {
	notifications atomic.Bool
	webhook       atomic.Bool
	generator     atomic.Bool
}

// New creates a toggle cell with the given initial values.
func New(notifications, webhook, generator bool) *Toggles {
	t := &Toggles{}
	t.notifications.Store(notifications)
	t.webhook.Store(webhook)
	t.generator.Store(generator)
	return t
}

// NotificationsEnabled reports whether alert notifications are enabled.
func (t *Toggles) NotificationsEnabled() bool { return t.notifications.Load() }

// WebhookEnabled reports whether HTTP webhook ingestion is enabled.
func (t *Toggles) WebhookEnabled() bool { return t.webhook.Load() }

// GeneratorEnabled reports whether the synthetic load generator is enabled.
func (t *Toggles) GeneratorEnabled() bool { return t.generator.Load() }

// Set updates the named toggle. It returns false if the name is unknown.
func (t *Toggles) Set(name string, enabled bool) bool {
	switch name {
	case Notifications:
		t.notifications.Store(enabled)
	case Webhook:
		t.webhook.Store(enabled)
	case Generator:
		t.generator.Store(enabled)
	default:
		return false
	}
	return true
}

// Snapshot returns the current value of every toggle keyed by name.
func (t *Toggles) Snapshot() map[string]bool {
	return map[string]bool{
		Notifications: t.notifications.Load(),
		Webhook:       t.webhook.Load(),
		Generator:     t.generator.Load(),
	}
}
