// Package api exposes the HTTP surface: webhook ingestion, node read models,
// recipient registry, runtime toggles and operational endpoints.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/internal/store"
)

// nodeDetailsLimit caps how many recent readings a node detail response carries.
const nodeDetailsLimit = 100

type nodeView struct {
	NodeID      string    `json:"node_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	LastUpdated time.Time `json:"last_updated"`
}

type readingView struct {
	TDS         float64   `json:"tds"`
	PH          float64   `json:"ph"`
	Humidity    float64   `json:"humidity"`
	Temperature float64   `json:"temperature"`
	Status      *string   `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type dashboardEntry struct {
	nodeView
	Latest *readingView `json:"latest,omitempty"`
}

type recipientView struct {
	Address        string     `json:"address"`
	LastNotifiedAt *time.Time `json:"last_notified_at"`
}

type addRecipientRequest struct {
	Address string `json:"address" binding:"required"`
}

// handleIngest accepts a measurement batch via the webhook path.
func (s *Server) handleIngest(c *gin.Context) {
	if !s.toggles.WebhookEnabled() {
		if s.metrics != nil {
			s.metrics.WebhookRejections.Inc()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook ingestion is disabled"})
		return
	}

	var batch pipeline.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		s.trackBatch("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	err := s.pipeline.Ingest(c.Request.Context(), batch)
	switch {
	case errors.Is(err, pipeline.ErrMalformedBatch):
		s.trackBatch("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Error("batch ingestion failed", "error", err)
		s.trackBatch("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.trackBatch("success")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleListNodes returns all nodes with their most recent readings.
func (s *Server) handleListNodes(c *gin.Context) {
	summaries, err := store.ListNodesWithLatest(c.Request.Context(), s.db)
	if err != nil {
		s.logger.Error("failed to list nodes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
		return
	}

	c.JSON(http.StatusOK, toDashboard(summaries))
}

// handleGetNode returns one node with its recent readings, newest first.
func (s *Server) handleGetNode(c *gin.Context) {
	nodeID := c.Param("node_id")

	node, readings, err := store.GetNode(c.Request.Context(), s.db, nodeID, nodeDetailsLimit)
	switch {
	case errors.Is(err, store.ErrUnknownNode):
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	case err != nil:
		s.logger.Error("failed to fetch node", "node_id", nodeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch node"})
		return
	}

	views := make([]readingView, 0, len(readings))
	for _, r := range readings {
		views = append(views, toReadingView(r))
	}

	c.JSON(http.StatusOK, gin.H{
		"node_id":      node.NodeID,
		"latitude":     node.Latitude,
		"longitude":    node.Longitude,
		"last_updated": node.LastUpdated,
		"sensor_data":  views,
	})
}

// handleDashboard returns the dashboard read model.
func (s *Server) handleDashboard(c *gin.Context) {
	summaries, err := store.ListNodesWithLatest(c.Request.Context(), s.db)
	if err != nil {
		s.logger.Error("failed to build dashboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}

	c.JSON(http.StatusOK, toDashboard(summaries))
}

// handleAddRecipient registers a new alert recipient.
func (s *Server) handleAddRecipient(c *gin.Context) {
	var req addRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	recipient, err := store.AddRecipient(c.Request.Context(), s.db, req.Address)
	switch {
	case errors.Is(err, store.ErrDuplicateRecipient):
		c.JSON(http.StatusConflict, gin.H{"error": "recipient already registered"})
	case err != nil:
		s.logger.Error("failed to add recipient", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add recipient"})
	default:
		c.JSON(http.StatusCreated, recipientView{
			Address:        recipient.Address,
			LastNotifiedAt: recipient.LastNotifiedAt,
		})
	}
}

// handleListRecipients returns all registered recipients.
func (s *Server) handleListRecipients(c *gin.Context) {
	recipients, err := store.ListRecipients(c.Request.Context(), s.db)
	if err != nil {
		s.logger.Error("failed to list recipients", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recipients"})
		return
	}

	views := make([]recipientView, 0, len(recipients))
	for _, r := range recipients {
		views = append(views, recipientView{
			Address:        r.Address,
			LastNotifiedAt: r.LastNotifiedAt,
		})
	}
	c.JSON(http.StatusOK, views)
}

// handleRemoveRecipient removes a registered recipient.
func (s *Server) handleRemoveRecipient(c *gin.Context) {
	address := c.Param("address")

	err := store.RemoveRecipient(c.Request.Context(), s.db, address)
	switch {
	case errors.Is(err, store.ErrUnknownRecipient):
		c.JSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
	case err != nil:
		s.logger.Error("failed to remove recipient", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove recipient"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	}
}

// handleSetToggle flips one runtime toggle.
func (s *Server) handleSetToggle(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !s.toggles.Set(name, enabled) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown toggle"})
			return
		}

		s.logger.Info("runtime toggle changed",
			"toggle", name,
			"enabled", enabled,
		)
		c.JSON(http.StatusOK, gin.H{"toggle": name, "enabled": enabled})
	}
}

// handleListToggles returns the current toggle values.
func (s *Server) handleListToggles(c *gin.Context) {
	c.JSON(http.StatusOK, s.toggles.Snapshot())
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) trackBatch(status string) {
	if s.pipelineMetrics != nil {
		s.pipelineMetrics.BatchesIngested.WithLabelValues("webhook", status).Inc()
	}
}

func toDashboard(summaries []store.NodeSummary) []dashboardEntry {
	entries := make([]dashboardEntry, 0, len(summaries))
	for _, s := range summaries {
		entry := dashboardEntry{
			nodeView: nodeView{
				NodeID:      s.Node.NodeID,
				Latitude:    s.Node.Latitude,
				Longitude:   s.Node.Longitude,
				LastUpdated: s.Node.LastUpdated,
			},
		}
		if s.Latest != nil {
			view := toReadingView(*s.Latest)
			entry.Latest = &view
		}
		entries = append(entries, entry)
	}
	return entries
}

func toReadingView(r store.Reading) readingView {
	return readingView{
		TDS:         r.TDS,
		PH:          r.PH,
		Humidity:    r.Humidity,
		Temperature: r.Temperature,
		Status:      r.Status,
		Timestamp:   r.Timestamp,
	}
}
