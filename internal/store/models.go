// Package store provides the PostgreSQL persistence layer for nodes,
// readings and alert recipients.
package store

import (
	"time"
)

// Node represents a registered field sensor unit.
// Nodes are created on first sighting and never deleted implicitly.
type Node struct {
	NodeID      string    `gorm:"uniqueIndex;not null"`
	Latitude    float64   `gorm:"not null"`
	Longitude   float64   `gorm:"not null"`
	LastUpdated time.Time `gorm:"index:idx_last_updated"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	ID          uint      `gorm:"primaryKey"`
	Readings    []Reading `gorm:"foreignKey:NodeID;references:NodeID"`
}

// TableName specifies the table name for Node model.
func (Node) TableName() string {
	return "nodes"
}

// Reading represents one timestamped measurement tuple for a node.
// Status is NULL until classification; the only permitted transition is
// NULL to one of GOOD/WARNING/BAD, after which the row is immutable.
type Reading struct {
	Timestamp   time.Time `gorm:"index:idx_node_timestamp;index:idx_timestamp;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	NodeID      string    `gorm:"index:idx_node_timestamp;index:idx_node_status;not null"`
	Status      *string   `gorm:"index:idx_node_status"`
	TDS         float64   `gorm:"column:tds;not null"`
	PH          float64   `gorm:"column:ph;not null"`
	Humidity    float64   `gorm:"not null"`
	Temperature float64   `gorm:"not null"`
	ID          uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for Reading model.
func (Reading) TableName() string {
	return "readings"
}

// Recipient represents an alert destination address.
// LastNotifiedAt is NULL until the first successful dispatch and is only
// advanced by the notification gate.
type Recipient struct {
	Address        string     `gorm:"uniqueIndex;not null"`
	LastNotifiedAt *time.Time `gorm:"index:idx_last_notified"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
	ID             uint       `gorm:"primaryKey"`
}

// TableName specifies the table name for Recipient model.
func (Recipient) TableName() string {
	return "recipients"
}
