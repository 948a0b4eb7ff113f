package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_OrderSubmitted(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "orders", logger: logging.NewNop()}
	ctx := middleware.WithRequestID(context.Background(), "req-9")
	subID := uuid.New()

	err := p.PublishOrderSubmitted(ctx, "42", OrderSubmitted{
		SubmissionID: subID,
		TotalAmount:  json.Number("160"),
		Lines:        1,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(EventTypeOrderSubmitted), string(msg.Headers[0].Value))

	var event OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, EventTypeOrderSubmitted, event.Type)
	assert.Equal(t, models.ItemID("42"), event.OrderID)
	assert.Equal(t, "req-9", event.CorrelationID)
	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	var payload OrderSubmitted
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	assert.Equal(t, subID, payload.SubmissionID)
	assert.Equal(t, json.Number("160"), payload.TotalAmount)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, logger: logging.NewNop()}

	err := p.PublishFeedbackSubmitted(context.Background(), "3", FeedbackSubmitted{Type: "callback"})
	assert.Error(t, err)
}

type fakeReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed chan struct{}
	once   sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, closed: make(chan struct{})}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, io.EOF
	}
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []models.ItemID
	subs  []uuid.UUID
	done  chan struct{}
}

func (h *recordingHandler) HandleIncomplete(ctx context.Context, submissionID uuid.UUID, orderID models.ItemID) error {
	h.mu.Lock()
	h.calls = append(h.calls, orderID)
	h.subs = append(h.subs, submissionID)
	h.mu.Unlock()
	h.done <- struct{}{}
	return nil
}

func encodeEvent(t *testing.T, eventType EventType, orderID models.ItemID, payload any) kafka.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := json.Marshal(newEvent(context.Background(), eventType, orderID, data))
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestKafkaConsumer_DispatchesIncompleteOrders(t *testing.T) {
	subID := uuid.New()
	reader := newFakeReader(
		kafka.Message{Value: []byte("not json")},
		encodeEvent(t, EventTypeOrderSubmitted, "1", OrderSubmitted{}),
		encodeEvent(t, EventTypeOrderIncomplete, "2", OrderIncomplete{SubmissionID: subID, Stage: "header_created"}),
	)
	handler := &recordingHandler{done: make(chan struct{}, 1)}
	c := newConsumer(reader, handler, logging.NewNop())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background()) }()

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	c.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []models.ItemID{"2"}, handler.calls)
	assert.Equal(t, []uuid.UUID{subID}, handler.subs)
}

func TestMockEventPublisher(t *testing.T) {
	m := NewMockEventPublisher()
	require.NoError(t, m.PublishOrderIncomplete(context.Background(), "5", OrderIncomplete{Stage: "items_written"}))
	require.NoError(t, m.PublishOrderSubmitted(context.Background(), "6", OrderSubmitted{}))

	assert.Len(t, m.Events(), 2)
	require.Len(t, m.OfType(EventTypeOrderIncomplete), 1)
	assert.Equal(t, models.ItemID("5"), m.OfType(EventTypeOrderIncomplete)[0].OrderID)
}
