package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

var testCfg = config.ReconcileConfig{
	Interval:    time.Minute,
	GracePeriod: 10 * time.Minute,
	BatchSize:   10,
}

func seedOrder(store *clients.MemoryItemStore, id models.ItemID, items ...models.OrderItem) {
	store.Seed(models.CollectionOrders, map[string]any{"id": id, "amount": 0})
	for _, item := range items {
		item.Order = id
		store.Seed(models.CollectionOrderItems, item)
	}
}

func orderAmount(t *testing.T, store *clients.MemoryItemStore, id models.ItemID) decimal.Decimal {
	t.Helper()
	rec, ok := store.Get(models.CollectionOrders, id)
	require.True(t, ok)
	var order models.Order
	require.NoError(t, rec.Decode(&order))
	return order.Amount
}

func TestReconcileOrder_SumsPersistedItems(t *testing.T) {
	store := clients.NewMemoryItemStore()
	seedOrder(store, "7",
		models.OrderItem{Product: "P1", Quantity: 1, Price: decimal.NewFromInt(50)},
		models.OrderItem{Product: "P2", Quantity: 3, Price: decimal.NewFromInt(20)},
	)
	seedOrder(store, "8", models.OrderItem{Product: "P1", Quantity: 9, Price: decimal.NewFromInt(50)})

	r := NewReconciler(store, repository.NewMemoryLedger(), testCfg, metrics.New(), logging.NewNop())

	total, err := r.ReconcileOrder(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(110)), "got %s", total)
	assert.True(t, orderAmount(t, store, "7").Equal(decimal.NewFromInt(110)))
	assert.True(t, orderAmount(t, store, "8").IsZero())
}

func TestReconcileOrder_NoItemsSetsZero(t *testing.T) {
	store := clients.NewMemoryItemStore()
	store.Seed(models.CollectionOrders, map[string]any{"id": "3", "amount": 99})

	r := NewReconciler(store, repository.NewMemoryLedger(), testCfg, nil, logging.NewNop())

	total, err := r.ReconcileOrder(context.Background(), "3")
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	assert.True(t, orderAmount(t, store, "3").IsZero())
}

func TestReconcileOrder_MissingOrder(t *testing.T) {
	r := NewReconciler(clients.NewMemoryItemStore(), repository.NewMemoryLedger(), testCfg, nil, logging.NewNop())

	_, err := r.ReconcileOrder(context.Background(), "404")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestHandleIncomplete_MarksLedger(t *testing.T) {
	ctx := context.Background()
	store := clients.NewMemoryItemStore()
	seedOrder(store, "1", models.OrderItem{Product: "P1", Quantity: 2, Price: decimal.NewFromInt(80)})

	ledger := repository.NewMemoryLedger()
	sub, err := ledger.Begin(ctx, "")
	require.NoError(t, err)
	require.NoError(t, ledger.Advance(ctx, sub.ID, repository.StageItemsWritten, "1", decimal.Zero))
	require.NoError(t, ledger.Fail(ctx, sub.ID, repository.StageItemsWritten, errors.New("timeout")))

	r := NewReconciler(store, ledger, testCfg, metrics.New(), logging.NewNop())
	require.NoError(t, r.HandleIncomplete(ctx, sub.ID, "1"))

	got, ok := ledger.Get(sub.ID)
	require.True(t, ok)
	require.NotNil(t, got.ReconciledAt)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(160)))
}

func TestSweep_RepairsFailedAndStalledSubmissions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-time.Hour)

	ledger := repository.NewMemoryLedger()
	ledger.SetClock(func() time.Time { return clock })

	store := clients.NewMemoryItemStore()
	seedOrder(store, "1", models.OrderItem{Product: "P1", Quantity: 1, Price: decimal.NewFromInt(10)})
	seedOrder(store, "2", models.OrderItem{Product: "P2", Quantity: 2, Price: decimal.NewFromInt(10)})
	seedOrder(store, "3", models.OrderItem{Product: "P3", Quantity: 3, Price: decimal.NewFromInt(10)})

	failed, _ := ledger.Begin(ctx, "")
	require.NoError(t, ledger.Advance(ctx, failed.ID, repository.StageHeaderCreated, "1", decimal.Zero))
	require.NoError(t, ledger.Fail(ctx, failed.ID, repository.StageHeaderCreated, errors.New("boom")))

	stalled, _ := ledger.Begin(ctx, "")
	require.NoError(t, ledger.Advance(ctx, stalled.ID, repository.StageItemsWritten, "2", decimal.Zero))

	done, _ := ledger.Begin(ctx, "")
	require.NoError(t, ledger.Advance(ctx, done.ID, repository.StagePriced, "3", decimal.NewFromInt(30)))
	require.NoError(t, ledger.Complete(ctx, done.ID))

	clock = now
	r := NewReconciler(store, ledger, testCfg, metrics.New(), logging.NewNop())
	r.now = func() time.Time { return now }

	repaired, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)
	assert.True(t, orderAmount(t, store, "1").Equal(decimal.NewFromInt(10)))
	assert.True(t, orderAmount(t, store, "2").Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 2, store.CountCalls(apperrors.OpUpdate, models.CollectionOrders))

	repaired, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger()
	ledger.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	store := clients.NewMemoryItemStore()
	seedOrder(store, "2", models.OrderItem{Product: "P1", Quantity: 1, Price: decimal.NewFromInt(5)})

	missing, _ := ledger.Begin(ctx, "")
	require.NoError(t, ledger.Advance(ctx, missing.ID, repository.StageHeaderCreated, "404", decimal.Zero))
	present, _ := ledger.Begin(ctx, "")
	require.NoError(t, ledger.Advance(ctx, present.ID, repository.StageHeaderCreated, "2", decimal.Zero))

	r := NewReconciler(store, ledger, testCfg, nil, logging.NewNop())

	repaired, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	got, _ := ledger.Get(missing.ID)
	assert.Nil(t, got.ReconciledAt)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testCfg
	cfg.Interval = 10 * time.Millisecond
	r := NewReconciler(clients.NewMemoryItemStore(), repository.NewMemoryLedger(), cfg, nil, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
