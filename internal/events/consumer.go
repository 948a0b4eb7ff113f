package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// IncompleteOrderHandler repairs an order left partially written.
type IncompleteOrderHandler interface {
	HandleIncomplete(ctx context.Context, submissionID uuid.UUID, orderID models.ItemID) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConsumer consumes order events from Kafka.
type KafkaConsumer struct {
	reader  messageReader
	handler IncompleteOrderHandler
	logger  *logging.LoggerV2
	stopCh  chan struct{}
}

// NewKafkaConsumer creates a new Kafka-based event consumer.
func NewKafkaConsumer(cfg config.KafkaConfig, handler IncompleteOrderHandler, logger *logging.LoggerV2) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.OrdersTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return newConsumer(reader, handler, logger)
}

func newConsumer(reader messageReader, handler IncompleteOrderHandler, logger *logging.LoggerV2) *KafkaConsumer {
	return &KafkaConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start begins consuming events.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				select {
				case <-c.stopCh:
					continue
				default:
				}
				c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
				continue
			}

			c.handleMessage(ctx, msg)
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		return
	}

	if event.CorrelationID != "" {
		ctx = middleware.WithRequestID(ctx, event.CorrelationID)
	}

	switch event.Type {
	case EventTypeOrderIncomplete:
		c.handleOrderIncomplete(ctx, &event)
	default:
		c.logger.Debug("Ignoring event type", logging.Fields{"type": event.Type})
	}
}

func (c *KafkaConsumer) handleOrderIncomplete(ctx context.Context, event *OrderEvent) {
	var payload OrderIncomplete
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		c.logger.Error("Failed to unmarshal order incomplete payload", logging.Fields{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return
	}

	c.logger.Info("Handling order incomplete event", logging.Fields{
		"order_id":      event.OrderID,
		"submission_id": payload.SubmissionID,
		"stage":         payload.Stage,
	})

	if err := c.handler.HandleIncomplete(ctx, payload.SubmissionID, event.OrderID); err != nil {
		c.logger.Error("Failed to reconcile order", logging.Fields{
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}
