package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	svc     *OrderService
	store   *clients.MemoryItemStore
	mailer  *clients.MockMailer
	ledger  *repository.MemoryLedger
	events  *events.MockEventPublisher
	metrics *metrics.Metrics
	cfg     *config.Config
}

func newFixture(t *testing.T, mailErr error) *fixture {
	t.Helper()

	f := &fixture{
		store:   clients.NewMemoryItemStore(),
		mailer:  clients.NewMockMailer(mailErr),
		ledger:  repository.NewMemoryLedger(),
		events:  events.NewMockEventPublisher(),
		metrics: metrics.New(),
	}
	f.cfg = &config.Config{
		SMTP: config.SMTPConfig{From: "shop@example.com", Operator: "ops@example.com"},
		Submission: config.SubmissionConfig{
			MaxConcurrentWrites: 2,
			CurrencySymbol:      "₽",
			NotificationTimeout: time.Second,
		},
		Features: config.FeatureFlags{EnableOrderEvents: true},
	}
	f.svc = NewOrderService(f.store, f.mailer, f.ledger, f.events, f.metrics, f.cfg)
	t.Cleanup(f.svc.Wait)
	return f
}

func (f *fixture) seedProducts(products ...map[string]any) {
	for _, p := range products {
		f.store.Seed(models.CollectionProducts, p)
	}
}

func (f *fixture) order(t *testing.T, id models.ItemID) models.Order {
	t.Helper()
	rec, ok := f.store.Get(models.CollectionOrders, id)
	require.True(t, ok, "order %s not stored", id)
	var order models.Order
	require.NoError(t, rec.Decode(&order))
	return order
}

func (f *fixture) orderItems(t *testing.T) []models.OrderItem {
	t.Helper()
	items, err := clients.DecodeAll[models.OrderItem](f.store.All(models.CollectionOrderItems))
	require.NoError(t, err)
	return items
}

func cart(lines ...models.CartLine) *models.SubmitOrderRequest {
	return &models.SubmitOrderRequest{Name: "Ivan", Phone: "89161234567", Items: lines}
}

func TestSubmitOrder_DiscountPricePreferred(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100, "discount_price": 80})

	result, err := f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 2}), models.RequestMeta{
		ClientIP:       "10.0.0.1",
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, models.ItemID("1"), result.OrderID)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(160)), "got %s", result.TotalAmount)
	assert.True(t, f.order(t, "1").Amount.Equal(decimal.NewFromInt(160)))

	items := f.orderItems(t)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemID("1"), items[0].Order)
	assert.Equal(t, models.ItemID("P1"), items[0].Product)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(80)))

	sub, err := f.ledger.FindByKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, repository.StageCompleted, sub.Stage)
	assert.Equal(t, "1", sub.OrderID)

	require.Len(t, f.events.OfType(events.EventTypeOrderSubmitted), 1)
	assert.Empty(t, f.events.OfType(events.EventTypeOrderIncomplete))

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "New order #1", sent[0].Subject)
	assert.Equal(t, []string{"ops@example.com"}, sent[0].To)
	assert.Equal(t, "shop@example.com", sent[0].From)
	assert.Contains(t, sent[0].Body, "- Drone: 2 pcs x 80₽")
	assert.Contains(t, sent[0].Body, "Order total: 160₽")
	assert.Contains(t, sent[0].Body, "IP: 10.0.0.1")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(kindOrder, metrics.OutcomeSuccess)))
}

func TestSubmitOrder_ListPriceWithoutDiscount(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(
		map[string]any{"id": "P1", "title": "Frame", "price": 50, "discount_price": nil},
		map[string]any{"id": "P2", "title": "Battery", "price": 20},
	)

	result, err := f.svc.SubmitOrder(context.Background(), cart(
		models.CartLine{ProductID: "P1", Quantity: 1},
		models.CartLine{ProductID: "P2", Quantity: 3},
	), models.RequestMeta{})
	require.NoError(t, err)

	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(110)), "got %s", result.TotalAmount)
	assert.True(t, f.order(t, result.OrderID).Amount.Equal(decimal.NewFromInt(110)))
	assert.Len(t, f.orderItems(t), 2)
	assert.Equal(t, 1, f.store.CountCalls(apperrors.OpRead, models.CollectionProducts))
}

func TestSubmitOrder_InvalidRequestsWriteNothing(t *testing.T) {
	tests := []struct {
		name  string
		items []models.CartLine
	}{
		{"empty cart", nil},
		{"zero quantity", []models.CartLine{{ProductID: "P1", Quantity: 0}}},
		{"negative quantity", []models.CartLine{{ProductID: "P1", Quantity: -2}}},
		{"missing product id", []models.CartLine{{ProductID: "", Quantity: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			_, err := f.svc.SubmitOrder(context.Background(), cart(tt.items...), models.RequestMeta{})

			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Empty(t, f.store.Calls())
			assert.Empty(t, f.mailer.Sent())
		})
	}
}

func TestSubmitOrder_ProductNotFound(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100})

	_, err := f.svc.SubmitOrder(context.Background(), cart(
		models.CartLine{ProductID: "P1", Quantity: 1},
		models.CartLine{ProductID: "GONE", Quantity: 1},
	), models.RequestMeta{IdempotencyKey: "k-missing"})

	var notFound *apperrors.ProductNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "GONE", notFound.ProductID)

	assert.Equal(t, 0, f.store.CountCalls(apperrors.OpCreate, models.CollectionOrderItems))
	assert.True(t, f.order(t, "1").Amount.IsZero())

	incomplete := f.events.OfType(events.EventTypeOrderIncomplete)
	require.Len(t, incomplete, 1)
	assert.Equal(t, models.ItemID("1"), incomplete[0].OrderID)

	sub, err := f.ledger.FindByKey(context.Background(), "k-missing")
	require.NoError(t, err)
	assert.Equal(t, repository.StageFailed, sub.Stage)
	assert.Equal(t, repository.StageHeaderCreated, sub.FailedStage)

	f.svc.Wait()
	assert.Empty(t, f.mailer.Sent())
}

func TestSubmitOrder_IgnoresClientPrices(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100, "discount_price": 80})

	var req models.SubmitOrderRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Ivan",
		"amount": 1,
		"totalAmount": 1,
		"items": [{"productId": "P1", "quantity": 2, "price": 1}]
	}`), &req))

	result, err := f.svc.SubmitOrder(context.Background(), &req, models.RequestMeta{})
	require.NoError(t, err)

	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(160)))
	assert.True(t, f.orderItems(t)[0].Price.Equal(decimal.NewFromInt(80)))
}

func TestSubmitOrder_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, errors.New("smtp down"))
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100, "discount_price": 80})

	result, err := f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 2}), models.RequestMeta{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(160)))
	assert.True(t, f.order(t, result.OrderID).Amount.Equal(decimal.NewFromInt(160)))
	assert.Len(t, f.mailer.Sent(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationFailures))
}

func TestSubmitOrder_IdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100, "discount_price": 80})
	req := cart(models.CartLine{ProductID: "P1", Quantity: 2})
	meta := models.RequestMeta{IdempotencyKey: "same"}

	first, err := f.svc.SubmitOrder(context.Background(), req, meta)
	require.NoError(t, err)
	second, err := f.svc.SubmitOrder(context.Background(), req, meta)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.Equal(t, 1, f.store.CountCalls(apperrors.OpCreate, models.CollectionOrders))
	assert.Len(t, f.orderItems(t), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(kindOrder, metrics.OutcomeDuplicate)))
}

func TestSubmitOrder_ReplaysPricedSubmission(t *testing.T) {
	f := newFixture(t, nil)
	sub, err := f.ledger.Begin(context.Background(), "priced")
	require.NoError(t, err)
	require.NoError(t, f.ledger.Advance(context.Background(), sub.ID, repository.StagePriced, "9", decimal.NewFromInt(50)))

	result, err := f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 1}), models.RequestMeta{
		IdempotencyKey: "priced",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ItemID("9"), result.OrderID)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(50)), "got %s", result.TotalAmount)
	assert.Empty(t, f.store.Calls())
	assert.Empty(t, f.mailer.Sent())
}

func TestSubmitOrder_InProgressKey(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ledger.Begin(context.Background(), "busy")
	require.NoError(t, err)

	_, err = f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 1}), models.RequestMeta{
		IdempotencyKey: "busy",
	})

	assert.ErrorIs(t, err, apperrors.ErrSubmissionInProgress)
	assert.Empty(t, f.store.Calls())
}

func TestSubmitOrder_RetryAfterFailureReusesKey(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 10})
	f.store.FailOn(apperrors.OpCreate, models.CollectionOrders, errors.New("unavailable"))
	meta := models.RequestMeta{IdempotencyKey: "retry"}
	req := cart(models.CartLine{ProductID: "P1", Quantity: 1})

	_, err := f.svc.SubmitOrder(context.Background(), req, meta)
	require.Error(t, err)

	f.store.FailOn(apperrors.OpCreate, models.CollectionOrders, nil)
	result, err := f.svc.SubmitOrder(context.Background(), req, meta)
	require.NoError(t, err)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(10)))
}

func TestSubmitOrder_LineItemFailureAttemptsEveryLine(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(
		map[string]any{"id": "P1", "price": 10},
		map[string]any{"id": "P2", "price": 20},
		map[string]any{"id": "P3", "price": 30},
	)
	f.store.FailOn(apperrors.OpCreate, models.CollectionOrderItems, errors.New("rejected"))

	_, err := f.svc.SubmitOrder(context.Background(), cart(
		models.CartLine{ProductID: "P1", Quantity: 1},
		models.CartLine{ProductID: "P2", Quantity: 1},
		models.CartLine{ProductID: "P3", Quantity: 1},
	), models.RequestMeta{})

	assert.ErrorIs(t, err, apperrors.ErrRemoteWrite)
	assert.Equal(t, 3, f.store.CountCalls(apperrors.OpCreate, models.CollectionOrderItems))
	assert.Equal(t, 0, f.store.CountCalls(apperrors.OpUpdate, models.CollectionOrders))

	incomplete := f.events.OfType(events.EventTypeOrderIncomplete)
	require.Len(t, incomplete, 1)
	var payload events.OrderIncomplete
	require.NoError(t, json.Unmarshal(incomplete[0].Data, &payload))
	assert.Equal(t, string(repository.StageHeaderCreated), payload.Stage)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(kindOrder, metrics.OutcomeRemoteError)))
}

func TestSubmitOrder_AmountUpdateFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(
		map[string]any{"id": "P1", "price": 10},
		map[string]any{"id": "P2", "price": 20},
	)
	f.store.FailOn(apperrors.OpUpdate, models.CollectionOrders, errors.New("unavailable"))

	_, err := f.svc.SubmitOrder(context.Background(), cart(
		models.CartLine{ProductID: "P1", Quantity: 1},
		models.CartLine{ProductID: "P2", Quantity: 2},
	), models.RequestMeta{IdempotencyKey: "amount"})
	f.svc.Wait()

	assert.ErrorIs(t, err, apperrors.ErrRemoteWrite)
	assert.Len(t, f.orderItems(t), 2)
	assert.True(t, f.order(t, "1").Amount.IsZero())

	sub, err := f.ledger.FindByKey(context.Background(), "amount")
	require.NoError(t, err)
	assert.Equal(t, repository.StageFailed, sub.Stage)
	assert.Equal(t, repository.StageItemsWritten, sub.FailedStage)
	assert.Equal(t, "1", sub.OrderID)

	incomplete := f.events.OfType(events.EventTypeOrderIncomplete)
	require.Len(t, incomplete, 1)
	var payload events.OrderIncomplete
	require.NoError(t, json.Unmarshal(incomplete[0].Data, &payload))
	assert.Equal(t, string(repository.StageItemsWritten), payload.Stage)
	assert.Empty(t, f.events.OfType(events.EventTypeOrderSubmitted))
	assert.Empty(t, f.mailer.Sent())
}

// cancellingStore cancels the caller's context as soon as the order header is created.
type cancellingStore struct {
	*clients.MemoryItemStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Create(ctx context.Context, collection string, fields any) (clients.Record, error) {
	rec, err := s.MemoryItemStore.Create(ctx, collection, fields)
	if collection == models.CollectionOrders {
		s.cancel()
	}
	return rec, err
}

func TestSubmitOrder_CompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "title": "Drone", "price": 100, "discount_price": 80})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancellingStore{MemoryItemStore: f.store, cancel: cancel}
	svc := NewOrderService(store, f.mailer, f.ledger, f.events, f.metrics, f.cfg)

	result, err := svc.SubmitOrder(ctx, cart(models.CartLine{ProductID: "P1", Quantity: 2}), models.RequestMeta{
		IdempotencyKey: "gone",
	})
	svc.Wait()
	require.NoError(t, err)

	assert.Error(t, ctx.Err())
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(160)), "got %s", result.TotalAmount)
	assert.True(t, f.order(t, "1").Amount.Equal(decimal.NewFromInt(160)))
	assert.Len(t, f.orderItems(t), 1)

	sub, err := f.ledger.FindByKey(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, repository.StageCompleted, sub.Stage)
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestSubmitOrder_HeaderFailurePublishesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "price": 10})
	f.store.FailOn(apperrors.OpCreate, models.CollectionOrders, errors.New("unavailable"))

	_, err := f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 1}), models.RequestMeta{
		IdempotencyKey: "hdr",
	})

	assert.ErrorIs(t, err, apperrors.ErrRemoteWrite)
	assert.Empty(t, f.events.Events())

	sub, err := f.ledger.FindByKey(context.Background(), "hdr")
	require.NoError(t, err)
	assert.Equal(t, repository.StageStarted, sub.FailedStage)
	assert.Empty(t, sub.OrderID)
}

func TestSubmitOrder_CatalogReadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailOn(apperrors.OpRead, models.CollectionProducts, errors.New("timeout"))

	_, err := f.svc.SubmitOrder(context.Background(), cart(models.CartLine{ProductID: "P1", Quantity: 1}), models.RequestMeta{})

	assert.ErrorIs(t, err, apperrors.ErrRemoteRead)
	assert.Equal(t, 0, f.store.CountCalls(apperrors.OpCreate, models.CollectionOrderItems))
	assert.Len(t, f.events.OfType(events.EventTypeOrderIncomplete), 1)
}

func TestSubmitOrder_NormalisesContactFields(t *testing.T) {
	f := newFixture(t, nil)
	f.seedProducts(map[string]any{"id": "P1", "price": 10})

	req := cart(models.CartLine{ProductID: "P1", Quantity: 1})
	req.Name = "  иван   петров "
	req.Phone = "8 (916) 123-45-67"
	req.City = "санкт-петербург"
	req.Email = " ivan@example.com "

	result, err := f.svc.SubmitOrder(context.Background(), req, models.RequestMeta{})
	require.NoError(t, err)

	order := f.order(t, result.OrderID)
	assert.Equal(t, "Иван Петров", order.Name)
	assert.Equal(t, "+7 (916) 12 34 567", order.Phone)
	assert.Equal(t, "Санкт Петербург", order.City)
	assert.Equal(t, "ivan@example.com", order.Email)
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	result, err := f.svc.SubmitFeedback(context.Background(), &models.SubmitFeedbackRequest{
		Name:  "anna",
		Phone: "+7 916 123-45-67",
	}, models.RequestMeta{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.True(t, result.Success)
	assert.Equal(t, models.ItemID("1"), result.FeedbackID)

	order := f.order(t, "1")
	assert.Equal(t, "Anna", order.Name)
	assert.Equal(t, "+7 (916) 12 34 567", order.Phone)
	assert.Equal(t, models.FeedbackAdSource, order.AdSource)
	assert.Equal(t, "TYPE: callback. Status: New. Date: 2024-03-01T10:00:00Z", order.Notes)
	assert.True(t, order.Amount.IsZero())

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "New Callback request #1", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Created: 01.03.2024 10:00")
	assert.Len(t, f.events.OfType(events.EventTypeFeedbackSubmitted), 1)
}

func TestSubmitFeedback_ExplicitTypeAndDate(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SubmitFeedback(context.Background(), &models.SubmitFeedbackRequest{
		Name:        "Oleg",
		Type:        "question",
		Status:      "Open",
		DateCreated: "2024-05-02T08:30:00Z",
	}, models.RequestMeta{})
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, "TYPE: question. Status: Open. Date: 2024-05-02T08:30:00Z", f.order(t, "1").Notes)
	require.Len(t, f.mailer.Sent(), 1)
	assert.Equal(t, "New Feedback request #1", f.mailer.Sent()[0].Subject)
	assert.Contains(t, f.mailer.Sent()[0].Body, "Created: 02.05.2024 08:30")
}

func TestSubmitFeedback_StoreFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.FailOn(apperrors.OpCreate, models.CollectionOrders, errors.New("unavailable"))

	_, err := f.svc.SubmitFeedback(context.Background(), &models.SubmitFeedbackRequest{Name: "Oleg"}, models.RequestMeta{})

	assert.ErrorIs(t, err, apperrors.ErrRemoteWrite)
	f.svc.Wait()
	assert.Empty(t, f.mailer.Sent())
}
