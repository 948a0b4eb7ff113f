package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *HTTPItemStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPItemStore(config.ItemStoreConfig{
		BaseURL: srv.URL + "/",
		Token:   "secret",
		Timeout: 5 * time.Second,
	}, logging.NewNop(), metrics.New())
}

func TestHTTPItemStore_Create(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/items/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get(middleware.HeaderRequestID))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"Ivan","amount":0}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":42,"name":"Ivan","amount":"0"}}`))
	})

	ctx := middleware.WithRequestID(context.Background(), "req-1")
	rec, err := store.Create(ctx, models.CollectionOrders, map[string]any{"name": "Ivan", "amount": 0})

	require.NoError(t, err)
	id, err := rec.ID()
	require.NoError(t, err)
	assert.Equal(t, models.ItemID("42"), id)
}

func TestHTTPItemStore_ListQuery(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/items/products", r.URL.Path)
		assert.JSONEq(t, `{"id":{"_in":["1","2"]}}`, r.URL.Query().Get("filter"))
		assert.Equal(t, "id,title,price,discount_price", r.URL.Query().Get("fields"))
		assert.Equal(t, "-1", r.URL.Query().Get("limit"))

		_, _ = w.Write([]byte(`{"data":[
			{"id":1,"title":"Lamp","price":"100.00","discount_price":"80.00"},
			{"id":2,"title":"Chair","price":50,"discount_price":null}
		]}`))
	})

	records, err := store.List(context.Background(), models.CollectionProducts, Query{
		Filter: In("id", []models.ItemID{"1", "2"}),
		Fields: []string{"id", "title", "price", "discount_price"},
		Limit:  -1,
	})
	require.NoError(t, err)

	products, err := DecodeAll[models.Product](records)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.True(t, decimal.NewFromInt(80).Equal(products[0].UnitPrice()))
	assert.True(t, decimal.NewFromInt(50).Equal(products[1].UnitPrice()))
}

func TestHTTPItemStore_Update(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/items/orders/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"id":7,"amount":"160"}}`))
	})

	rec, err := store.Update(context.Background(), models.CollectionOrders, "7", map[string]any{"amount": json.Number("160")})
	require.NoError(t, err)

	var order models.Order
	require.NoError(t, rec.Decode(&order))
	assert.True(t, decimal.NewFromInt(160).Equal(order.Amount))
}

func TestHTTPItemStore_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		call     func(*HTTPItemStore) error
		sentinel error
	}{
		{
			name:   "read forbidden",
			status: http.StatusForbidden,
			call: func(s *HTTPItemStore) error {
				_, err := s.List(context.Background(), models.CollectionProducts, Query{})
				return err
			},
			sentinel: apperrors.ErrRemoteRead,
		},
		{
			name:   "create rejected",
			status: http.StatusBadRequest,
			call: func(s *HTTPItemStore) error {
				_, err := s.Create(context.Background(), models.CollectionOrderItems, map[string]any{})
				return err
			},
			sentinel: apperrors.ErrRemoteWrite,
		},
		{
			name:   "update missing",
			status: http.StatusNotFound,
			call: func(s *HTTPItemStore) error {
				_, err := s.Update(context.Background(), models.CollectionOrders, "9", map[string]any{})
				return err
			},
			sentinel: apperrors.ErrRemoteWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
			})

			err := tt.call(store)

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			var rerr *apperrors.RemoteError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Contains(t, rerr.Error(), "nope")
		})
	}
}

func TestHTTPItemStore_TransportFailure(t *testing.T) {
	store := NewHTTPItemStore(config.ItemStoreConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	}, logging.NewNop(), nil)

	_, err := store.List(context.Background(), models.CollectionProducts, Query{})
	assert.True(t, errors.Is(err, apperrors.ErrRemoteRead))
}

func TestMemoryItemStore_Filters(t *testing.T) {
	store := NewMemoryItemStore()
	store.Seed(models.CollectionProducts,
		models.Product{ID: "1", Title: "Lamp", Price: decimal.NewFromInt(100), Status: "published"},
		models.Product{ID: "2", Title: "Chair", Price: decimal.NewFromInt(50), Status: "draft"},
		models.Product{ID: "3", Title: "Table", Price: decimal.NewFromInt(70), Status: "published"},
	)
	ctx := context.Background()

	recs, err := store.List(ctx, models.CollectionProducts, Query{Filter: In("id", []models.ItemID{"1", "2"})})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.List(ctx, models.CollectionProducts, Query{Filter: Eq("status", "published")})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = store.List(ctx, models.CollectionProducts, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	rec, err := store.Create(ctx, models.CollectionProducts, map[string]any{"title": "Sofa"})
	require.NoError(t, err)
	id, err := rec.ID()
	require.NoError(t, err)
	assert.Equal(t, models.ItemID("4"), id)
}

func TestMemoryItemStore_FailOn(t *testing.T) {
	store := NewMemoryItemStore()
	store.FailOn(apperrors.OpCreate, models.CollectionOrders, errors.New("down"))

	_, err := store.Create(context.Background(), models.CollectionOrders, map[string]any{})
	assert.True(t, errors.Is(err, apperrors.ErrRemoteWrite))

	store.FailOn(apperrors.OpCreate, models.CollectionOrders, nil)
	_, err = store.Create(context.Background(), models.CollectionOrders, map[string]any{})
	assert.NoError(t, err)
	assert.Equal(t, 2, store.CountCalls(apperrors.OpCreate, models.CollectionOrders))
}
