package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// ItemStore is CRUD over named collections of the headless content backend.
// No caching or retries are done here.
type ItemStore interface {
	Create(ctx context.Context, collection string, fields any) (Record, error)
	List(ctx context.Context, collection string, q Query) ([]Record, error)
	Update(ctx context.Context, collection string, id models.ItemID, fields any) (Record, error)
}

// Record is one raw item as returned by the store.
type Record json.RawMessage

// Decode unmarshals the record into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r, v)
}

// ID returns the record's primary key.
func (r Record) ID() (models.ItemID, error) {
	var head struct {
		ID models.ItemID `json:"id"`
	}
	if err := r.Decode(&head); err != nil {
		return "", err
	}
	if head.ID == "" {
		return "", errors.New("record has no id")
	}
	return head.ID, nil
}

// MarshalJSON keeps the record verbatim when it is re-encoded.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// DecodeAll unmarshals every record into a T.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Filter maps a field to operator/value pairs, e.g. {"id": {"_in": [1, 2]}}.
type Filter map[string]map[string]any

// Eq matches field equal to value.
func Eq(field string, value any) Filter {
	return Filter{field: {"_eq": value}}
}

// In matches field contained in values.
func In[T any](field string, values []T) Filter {
	return Filter{field: {"_in": values}}
}

// And combines filters; later conditions on the same field win.
func (f Filter) And(other Filter) Filter {
	out := make(Filter, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Query narrows a List call. Limit 0 leaves the store default, -1 returns everything.
type Query struct {
	Filter Filter
	Fields []string
	Limit  int
}

func (q Query) values() (url.Values, error) {
	v := url.Values{}
	if len(q.Filter) > 0 {
		data, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, err
		}
		v.Set("filter", string(data))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// HTTPItemStore implements ItemStore against the /items REST API.
type HTTPItemStore struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *logging.LoggerV2
	metrics    *metrics.Metrics
}

// NewHTTPItemStore creates an item store client authenticated with a static token.
func NewHTTPItemStore(cfg config.ItemStoreConfig, logger *logging.LoggerV2, m *metrics.Metrics) *HTTPItemStore {
	return &HTTPItemStore{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		token:   cfg.Token,
		logger:  logger,
		metrics: m,
	}
}

var _ ItemStore = (*HTTPItemStore)(nil)

// Create posts a new item to the collection.
func (c *HTTPItemStore) Create(ctx context.Context, collection string, fields any) (Record, error) {
	c.logger.Debug("Creating item", logging.Fields{"collection": collection})

	endpoint := fmt.Sprintf("%s/items/%s", c.baseURL, url.PathEscape(collection))
	var rec json.RawMessage
	if err := c.do(ctx, apperrors.OpCreate, collection, http.MethodPost, endpoint, fields, &rec); err != nil {
		return nil, err
	}
	return Record(rec), nil
}

// List reads items matching the query.
func (c *HTTPItemStore) List(ctx context.Context, collection string, q Query) ([]Record, error) {
	params, err := q.values()
	if err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpRead, Collection: collection, Err: err}
	}

	endpoint := fmt.Sprintf("%s/items/%s", c.baseURL, url.PathEscape(collection))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var raw []json.RawMessage
	if err := c.do(ctx, apperrors.OpRead, collection, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	records := make([]Record, len(raw))
	for i, r := range raw {
		records[i] = Record(r)
	}

	c.logger.Debug("Items listed", logging.Fields{
		"collection": collection,
		"count":      len(records),
	})
	return records, nil
}

// Update patches an existing item.
func (c *HTTPItemStore) Update(ctx context.Context, collection string, id models.ItemID, fields any) (Record, error) {
	c.logger.Debug("Updating item", logging.Fields{"collection": collection, "id": id})

	endpoint := fmt.Sprintf("%s/items/%s/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(id.String()))
	var rec json.RawMessage
	if err := c.do(ctx, apperrors.OpUpdate, collection, http.MethodPatch, endpoint, fields, &rec); err != nil {
		return nil, err
	}
	return Record(rec), nil
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *HTTPItemStore) do(ctx context.Context, op apperrors.RemoteOp, collection, method, endpoint string, body, out any) error {
	start := time.Now()
	status := 0
	defer func() {
		c.metrics.ObserveRemote(string(op), collection, status, time.Since(start))
	}()

	fail := func(err error) error {
		rerr := &apperrors.RemoteError{Op: op, Collection: collection, StatusCode: status, Err: err}
		c.logger.Error("Item store request failed", logging.Fields{
			"op":         op,
			"collection": collection,
			"status":     status,
			"error":      err.Error(),
		})
		return rerr
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fail(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fail(err)
	}
	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(payload, &env) == nil && len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		if resp.StatusCode == http.StatusNotFound {
			return fail(fmt.Errorf("%s: %w", msg, apperrors.ErrNotFound))
		}
		return fail(errors.New(msg))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(payload) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *HTTPItemStore) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if requestID := middleware.RequestIDFrom(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}
