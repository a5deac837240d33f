// Package synth generates plausible water-quality readings and demo nodes
// for load testing and demonstration.
package synth

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Node is a fabricated field node used for demo seeding.
type Node struct {
	LastUpdated time.Time
	NodeID      string  `fake:"{uuid}"`
	Latitude    float64 `fake:"{latitude}"`
	Longitude   float64 `fake:"{longitude}"`
}

// Reading is one synthesized measurement tuple with a pre-assigned status.
// The generator bypasses the classifier entirely; the status is drawn from a
// fixed categorical distribution instead.
type Reading struct {
	Timestamp   time.Time
	Status      string
	TDS         float64
	PH          float64
	Humidity    float64
	Temperature float64
}

// Plausible value ranges for synthesized readings.
const (
	minTDS         = 100.0
	maxTDS         = 500.0
	minPH          = 6.0
	maxPH          = 8.5
	minHumidity    = 30.0
	maxHumidity    = 90.0
	minTemperature = 20.0
	maxTemperature = 35.0
)

// Status distribution for synthesized readings: 70% GOOD, 20% WARNING, 10% BAD.
const (
	goodWeight    = 0.70
	warningWeight = 0.20
)

// NewNode fabricates a demo node with random coordinates.
func NewNode() *Node {
	var node Node
	if err := gofakeit.Struct(&node); err != nil {
		return nil
	}
	node.LastUpdated = time.Now().UTC()
	return &node
}

// NewReading synthesizes one reading with values drawn uniformly from the
// documented plausible ranges.
// Note: Uses math/rand which is acceptable for simulation data.
func NewReading(now time.Time) *Reading {
	return &Reading{
		TDS:         round2(uniform(minTDS, maxTDS)),
		PH:          round2(uniform(minPH, maxPH)),
		Humidity:    round2(uniform(minHumidity, maxHumidity)),
		Temperature: round2(uniform(minTemperature, maxTemperature)),
		Status:      randomStatus(),
		Timestamp:   now,
	}
}

func randomStatus() string {
	r := rand.Float64() // #nosec G404 - weak random is acceptable for simulation
	switch {
	case r < goodWeight:
		return "GOOD"
	case r < goodWeight+warningWeight:
		return "WARNING"
	default:
		return "BAD"
	}
}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo) // #nosec G404 - weak random is acceptable for simulation
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
