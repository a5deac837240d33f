// Package pipeline turns raw measurement batches into stored, status-tagged
// readings and triggers alerting on adverse status. It also owns the
// background sweeps: the status resolver and the synthetic load generator.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrMalformedBatch marks a client error: the batch shape is invalid and
// nothing was written. Wrapped errors carry the field-level detail.
var ErrMalformedBatch = errors.New("malformed ingestion batch")

// MeasurementInput is one measurement as received on the wire. Sensor values
// are pointers so a missing key is distinguishable from zero.
type MeasurementInput struct {
	TDS         *float64 `json:"tds"`
	PH          *float64 `json:"ph"`
	Humidity    *float64 `json:"humidity"`
	Temperature *float64 `json:"temperature"`
	Timestamp   *int64   `json:"timestamp"`
}

// NodeBatch is the set of measurements one node reported in a batch.
type NodeBatch struct {
	NodeID string             `json:"node_id"`
	Data   []MeasurementInput `json:"data"`
}

// Batch is one ingestion request: a sequence of per-node measurement lists,
// processed in the order supplied.
type Batch []NodeBatch

// Validate rejects a malformed batch before any write. All errors wrap
// ErrMalformedBatch.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}

	for i, entry := range b {
		if entry.NodeID == "" {
			return fmt.Errorf("%w: entry %d has no node_id", ErrMalformedBatch, i)
		}
		if len(entry.Data) == 0 {
			return fmt.Errorf("%w: node %s has no measurements", ErrMalformedBatch, entry.NodeID)
		}
		for j, m := range entry.Data {
			if err := m.validate(); err != nil {
				return fmt.Errorf("%w: node %s measurement %d: %v",
					ErrMalformedBatch, entry.NodeID, j, err)
			}
		}
	}
	return nil
}

func (m MeasurementInput) validate() error {
	switch {
	case m.TDS == nil:
		return errors.New("missing tds")
	case m.PH == nil:
		return errors.New("missing ph")
	case m.Humidity == nil:
		return errors.New("missing humidity")
	case m.Temperature == nil:
		return errors.New("missing temperature")
	case m.Timestamp == nil:
		return errors.New("missing timestamp")
	}
	return nil
}
