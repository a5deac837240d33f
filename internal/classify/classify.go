// Package classify maps sensor measurements to a water-quality status,
// delegating to an external predictor with deterministic threshold rules as
// the fallback.
package classify

import (
	"context"
	"fmt"
)

// Status is a classification outcome.
type Status string

// The closed set of status labels. Nothing else is ever persisted.
const (
	StatusGood    Status = "GOOD"
	StatusWarning Status = "WARNING"
	StatusBad     Status = "BAD"
)

// Valid reports whether s is one of the three known labels.
func (s Status) Valid() bool {
	switch s {
	case StatusGood, StatusWarning, StatusBad:
		return true
	}
	return false
}

// ParseStatus converts a wire label into a Status.
func ParseStatus(label string) (Status, error) {
	s := Status(label)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status label %q", label)
	}
	return s, nil
}

// Measurement is the 4-tuple of sensor values a classifier works on.
type Measurement struct {
	TDS         float64
	PH          float64
	Humidity    float64
	Temperature float64
}

// Classifier maps a measurement to a status label.
type Classifier interface {
	Classify(ctx context.Context, m Measurement) (Status, error)
}

// Threshold constants for the rule-based classifier.
const (
	badTDS     = 1000.0
	badPHLow   = 6.5
	badPHHigh  = 8.5
	warnTDS    = 500.0
	warnPHLow  = 7.0
	warnPHHigh = 8.0
)

// RuleBased classifies with fixed thresholds on tds and ph. Humidity and
// temperature are carried but do not affect the decision; this mirrors the
// deployed rule set and is a documented limitation, not an oversight.
type RuleBased struct{}

// NewRuleBased creates a rule-based classifier.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Classify never fails. BAD conditions are checked first and short-circuit.
func (r *RuleBased) Classify(_ context.Context, m Measurement) (Status, error) {
	if m.TDS > badTDS || m.PH < badPHLow || m.PH > badPHHigh {
		return StatusBad, nil
	}
	if m.TDS > warnTDS || m.PH < warnPHLow || m.PH > warnPHHigh {
		return StatusWarning, nil
	}
	return StatusGood, nil
}
