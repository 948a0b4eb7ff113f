package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderSubmitted    EventType = "order.submitted"
	EventTypeOrderIncomplete   EventType = "order.incomplete"
	EventTypeFeedbackSubmitted EventType = "feedback.submitted"
)

// OrderEvent is the envelope written to the orders topic.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       models.ItemID     `json:"order_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// OrderSubmitted is the payload of order.submitted.
type OrderSubmitted struct {
	SubmissionID uuid.UUID   `json:"submission_id"`
	TotalAmount  json.Number `json:"total_amount"`
	Lines        int         `json:"lines"`
	AdSource     string      `json:"ad_source,omitempty"`
}

// OrderIncomplete is the payload of order.incomplete. The order header exists but
// its items or amount may not.
type OrderIncomplete struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error"`
}

// FeedbackSubmitted is the payload of feedback.submitted.
type FeedbackSubmitted struct {
	Type string `json:"type"`
}

// Publisher publishes storefront order events.
type Publisher interface {
	PublishOrderSubmitted(ctx context.Context, orderID models.ItemID, payload OrderSubmitted) error
	PublishOrderIncomplete(ctx context.Context, orderID models.ItemID, payload OrderIncomplete) error
	PublishFeedbackSubmitted(ctx context.Context, feedbackID models.ItemID, payload FeedbackSubmitted) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.LoggerV2
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.LoggerV2) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{
		writer: writer,
		topic:  cfg.OrdersTopic,
		logger: logger,
	}
}

// PublishOrderSubmitted announces a fully priced order.
func (p *KafkaPublisher) PublishOrderSubmitted(ctx context.Context, orderID models.ItemID, payload OrderSubmitted) error {
	p.logger.Debug("Publishing order submitted event", logging.Fields{"order_id": orderID})
	return p.publishPayload(ctx, EventTypeOrderSubmitted, orderID, payload)
}

// PublishOrderIncomplete announces an order left partially written.
func (p *KafkaPublisher) PublishOrderIncomplete(ctx context.Context, orderID models.ItemID, payload OrderIncomplete) error {
	p.logger.Debug("Publishing order incomplete event", logging.Fields{
		"order_id": orderID,
		"stage":    payload.Stage,
	})
	return p.publishPayload(ctx, EventTypeOrderIncomplete, orderID, payload)
}

// PublishFeedbackSubmitted announces a new callback or feedback request.
func (p *KafkaPublisher) PublishFeedbackSubmitted(ctx context.Context, feedbackID models.ItemID, payload FeedbackSubmitted) error {
	p.logger.Debug("Publishing feedback submitted event", logging.Fields{"feedback_id": feedbackID})
	return p.publishPayload(ctx, EventTypeFeedbackSubmitted, feedbackID, payload)
}

func (p *KafkaPublisher) publishPayload(ctx context.Context, eventType EventType, orderID models.ItemID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.publish(ctx, newEvent(ctx, eventType, orderID, data))
}

func newEvent(ctx context.Context, eventType EventType, orderID models.ItemID, data []byte) *OrderEvent {
	return &OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       orderID,
		Data:          data,
		Metadata:      map[string]string{"source": "storefront-service"},
		Timestamp:     time.Now().UTC(),
		CorrelationID: middleware.RequestIDFrom(ctx),
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
	})

	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}

// NoopPublisher drops every event. It is used when order events are disabled.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) PublishOrderSubmitted(context.Context, models.ItemID, OrderSubmitted) error {
	return nil
}

func (NoopPublisher) PublishOrderIncomplete(context.Context, models.ItemID, OrderIncomplete) error {
	return nil
}

func (NoopPublisher) PublishFeedbackSubmitted(context.Context, models.ItemID, FeedbackSubmitted) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }

// MockEventPublisher records events for tests.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*OrderEvent
	Err    error
}

var _ Publisher = (*MockEventPublisher)(nil)

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) PublishOrderSubmitted(ctx context.Context, orderID models.ItemID, payload OrderSubmitted) error {
	return m.record(ctx, EventTypeOrderSubmitted, orderID, payload)
}

func (m *MockEventPublisher) PublishOrderIncomplete(ctx context.Context, orderID models.ItemID, payload OrderIncomplete) error {
	return m.record(ctx, EventTypeOrderIncomplete, orderID, payload)
}

func (m *MockEventPublisher) PublishFeedbackSubmitted(ctx context.Context, feedbackID models.ItemID, payload FeedbackSubmitted) error {
	return m.record(ctx, EventTypeFeedbackSubmitted, feedbackID, payload)
}

func (m *MockEventPublisher) Close() error { return nil }

// Events returns the recorded events.
func (m *MockEventPublisher) Events() []*OrderEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*OrderEvent(nil), m.events...)
}

// OfType returns recorded events of one type.
func (m *MockEventPublisher) OfType(t EventType) []*OrderEvent {
	var out []*OrderEvent
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockEventPublisher) record(ctx context.Context, t EventType, orderID models.ItemID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, newEvent(ctx, t, orderID, data))
	return m.Err
}
