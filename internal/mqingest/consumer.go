// Package mqingest consumes measurement batches from RabbitMQ and feeds them
// into the ingestion pipeline.
package mqingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/aquamon/internal/pipeline"
	"procodus.dev/aquamon/pkg/metrics"
	"procodus.dev/aquamon/pkg/mq"
)

// Consumer consumes batch messages from RabbitMQ and ingests them.
type Consumer struct {
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	mqClient mq.ClientInterface
	done     chan struct{}
	metrics  *metrics.PipelineMetrics // Optional metrics
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger      *slog.Logger
	Pipeline    *pipeline.Pipeline
	RabbitMQURL string
	QueueName   string
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.PipelineMetrics
	// MQMetrics is the optional collector for the underlying MQ client.
	MQMetrics *metrics.MQMetrics
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	mqClient := mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger)
	if cfg.MQMetrics != nil {
		mqClient.SetMetrics(cfg.MQMetrics)
	}

	return &Consumer{
		logger:   cfg.Logger,
		pipeline: cfg.Pipeline,
		mqClient: mqClient,
		done:     make(chan struct{}),
		metrics:  cfg.Metrics,
	}, nil
}

// Start begins consuming messages from RabbitMQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting mq ingestion consumer")

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		// Nothing will ever process messages, so Stop must not wait for it.
		close(c.done)
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("mq ingestion consumer started, waiting for messages")

	go c.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery ingests a single batch message. Malformed messages are
// acked so they cannot poison the queue; storage failures are nacked for
// redelivery.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var batch pipeline.Batch
	if err := json.Unmarshal(delivery.Body, &batch); err != nil {
		c.logger.Error("failed to unmarshal batch message",
			"error", err,
		)
		c.trackBatch("rejected")
		// Acknowledge so an unparseable message is not redelivered forever
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	err := c.pipeline.Ingest(ctx, batch)
	switch {
	case errors.Is(err, pipeline.ErrMalformedBatch):
		c.logger.Error("rejected malformed batch from queue",
			"error", err,
		)
		c.trackBatch("rejected")
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return

	case err != nil:
		c.logger.Error("failed to ingest batch",
			"error", err,
		)
		c.trackBatch("error")
		// Nack the message so it can be reprocessed
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}

	c.trackBatch("success")
	c.logger.Debug("batch ingested from queue",
		"entries", len(batch),
	)
}

func (c *Consumer) trackBatch(status string) {
	if c.metrics != nil {
		c.metrics.BatchesIngested.WithLabelValues("mq", status).Inc()
	}
}

// Stop stops the consumer and closes the MQ client.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping mq ingestion consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	// Wait for message processing to complete
	<-c.done

	c.logger.Info("mq ingestion consumer stopped")
	return nil
}
