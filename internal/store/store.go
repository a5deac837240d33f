package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Client-error sentinels surfaced by the store layer.
var (
	ErrDuplicateRecipient = errors.New("recipient already registered")
	ErrUnknownRecipient   = errors.New("recipient not found")
	ErrUnknownNode        = errors.New("node not found")
)

// EnsureNode creates the node on first sighting, or bumps its last_updated
// timestamp if it already exists. The placeholder coordinates are only used
// when the node is created here. Reports whether a new row was created.
func EnsureNode(db *gorm.DB, nodeID string, lat, lon float64, now time.Time) (bool, error) {
	node := &Node{
		NodeID:      nodeID,
		Latitude:    lat,
		Longitude:   lon,
		LastUpdated: now,
	}

	result := db.Where("node_id = ?", nodeID).FirstOrCreate(node)
	if result.Error != nil {
		return false, fmt.Errorf("failed to ensure node: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		return true, nil
	}

	if err := db.Model(&Node{}).Where("node_id = ?", nodeID).
		Update("last_updated", now).Error; err != nil {
		return false, fmt.Errorf("failed to touch node: %w", err)
	}
	return false, nil
}

// CreateReading inserts one reading row.
func CreateReading(db *gorm.DB, reading *Reading) error {
	if err := db.Create(reading).Error; err != nil {
		return fmt.Errorf("failed to create reading: %w", err)
	}
	return nil
}

// NodeIDs returns the identifiers of all registered nodes.
func NodeIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&Node{}).
		Order("node_id").Pluck("node_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list node ids: %w", err)
	}
	return ids, nil
}

// UnclassifiedNodeIDs returns the distinct node ids that currently have at
// least one reading with a NULL status.
func UnclassifiedNodeIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&Reading{}).
		Distinct("node_id").Where("status IS NULL").
		Pluck("node_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list unclassified nodes: %w", err)
	}
	return ids, nil
}

// LatestUnclassified returns the most recent NULL-status reading for a node,
// or nil if none remain.
func LatestUnclassified(ctx context.Context, db *gorm.DB, nodeID string) (*Reading, error) {
	var reading Reading
	err := db.WithContext(ctx).
		Where("node_id = ? AND status IS NULL", nodeID).
		Order("timestamp DESC").First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unclassified reading: %w", err)
	}
	return &reading, nil
}

// ClaimUnclassified assigns status to every NULL-status reading of the node
// in a single statement, so two concurrent sweeps cannot both claim the same
// row. Returns the number of rows claimed.
func ClaimUnclassified(ctx context.Context, db *gorm.DB, nodeID, status string) (int64, error) {
	result := db.WithContext(ctx).Model(&Reading{}).
		Where("node_id = ? AND status IS NULL", nodeID).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to claim unclassified readings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// EligibleRecipients returns every recipient never notified or last notified
// strictly before cutoff.
func EligibleRecipients(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]Recipient, error) {
	var recipients []Recipient
	if err := db.WithContext(ctx).
		Where("last_notified_at IS NULL OR last_notified_at < ?", cutoff).
		Order("address").Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to list eligible recipients: %w", err)
	}
	return recipients, nil
}

// CountRecipients returns the total number of registered recipients.
func CountRecipients(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&Recipient{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return n, nil
}

// MarkNotified advances the recipient's last_notified_at to the dispatch time.
func MarkNotified(ctx context.Context, db *gorm.DB, recipientID uint, at time.Time) error {
	if err := db.WithContext(ctx).Model(&Recipient{}).
		Where("id = ?", recipientID).
		Update("last_notified_at", at).Error; err != nil {
		return fmt.Errorf("failed to mark recipient notified: %w", err)
	}
	return nil
}

// AddRecipient registers a new alert destination.
func AddRecipient(ctx context.Context, db *gorm.DB, address string) (*Recipient, error) {
	var existing int64
	if err := db.WithContext(ctx).Model(&Recipient{}).
		Where("address = ?", address).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check recipient: %w", err)
	}
	if existing > 0 {
		return nil, ErrDuplicateRecipient
	}

	recipient := &Recipient{Address: address}
	if err := db.WithContext(ctx).Create(recipient).Error; err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	return recipient, nil
}

// RemoveRecipient deletes a registered alert destination.
func RemoveRecipient(ctx context.Context, db *gorm.DB, address string) error {
	result := db.WithContext(ctx).Where("address = ?", address).Delete(&Recipient{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete recipient: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUnknownRecipient
	}
	return nil
}

// ListRecipients returns all registered recipients.
func ListRecipients(ctx context.Context, db *gorm.DB) ([]Recipient, error) {
	var recipients []Recipient
	if err := db.WithContext(ctx).Order("address").Find(&recipients).Error; err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// NodeSummary is a node joined with its most recent reading, if any.
type NodeSummary struct {
	Node   Node
	Latest *Reading
}

// ListNodesWithLatest returns every node with its most recent reading.
func ListNodesWithLatest(ctx context.Context, db *gorm.DB) ([]NodeSummary, error) {
	var nodes []Node
	if err := db.WithContext(ctx).Order("node_id").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	summaries := make([]NodeSummary, 0, len(nodes))
	for _, node := range nodes {
		latest, err := latestReading(ctx, db, node.NodeID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, NodeSummary{Node: node, Latest: latest})
	}
	return summaries, nil
}

// GetNode returns one node and its most recent readings, newest first.
func GetNode(ctx context.Context, db *gorm.DB, nodeID string, limit int) (*Node, []Reading, error) {
	var node Node
	err := db.WithContext(ctx).Where("node_id = ?", nodeID).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrUnknownNode
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch node: %w", err)
	}

	var readings []Reading
	if err := db.WithContext(ctx).Where("node_id = ?", nodeID).
		Order("timestamp DESC").Limit(limit).Find(&readings).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to fetch readings: %w", err)
	}
	return &node, readings, nil
}

func latestReading(ctx context.Context, db *gorm.DB, nodeID string) (*Reading, error) {
	var reading Reading
	err := db.WithContext(ctx).Where("node_id = ?", nodeID).
		Order("timestamp DESC").First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest reading: %w", err)
	}
	return &reading, nil
}
