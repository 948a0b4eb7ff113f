package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// StoreCall records one call made against a MemoryItemStore.
type StoreCall struct {
	Op         apperrors.RemoteOp
	Collection string
	ID         models.ItemID
}

// MemoryItemStore is an in-process ItemStore for tests and local runs.
// It understands the _eq and _in filter operators and honours Limit.
type MemoryItemStore struct {
	mu       sync.Mutex
	items    map[string][]map[string]any
	nextID   map[string]int
	failures map[string]error
	calls    []StoreCall
}

var _ ItemStore = (*MemoryItemStore)(nil)

func NewMemoryItemStore() *MemoryItemStore {
	return &MemoryItemStore{
		items:    make(map[string][]map[string]any),
		nextID:   make(map[string]int),
		failures: make(map[string]error),
	}
}

// Seed stores records as-is. Records without an id get one assigned.
func (m *MemoryItemStore) Seed(collection string, records ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		fields, err := toFields(r)
		if err != nil {
			panic(fmt.Sprintf("seed %s: %v", collection, err))
		}
		m.insert(collection, fields)
	}
}

// FailOn makes every op on collection return a RemoteError wrapping err. A nil err clears it.
func (m *MemoryItemStore) FailOn(op apperrors.RemoteOp, collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := failureKey(op, collection)
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// Calls returns a copy of the call log.
func (m *MemoryItemStore) Calls() []StoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoreCall(nil), m.calls...)
}

// CountCalls returns how many calls matched op and collection.
func (m *MemoryItemStore) CountCalls(op apperrors.RemoteOp, collection string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op && c.Collection == collection {
			n++
		}
	}
	return n
}

// All returns every stored record of collection.
func (m *MemoryItemStore) All(collection string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.items[collection]))
	for _, item := range m.items[collection] {
		out = append(out, mustRecord(item))
	}
	return out
}

// Get returns one record by id.
func (m *MemoryItemStore) Get(collection string, id models.ItemID) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item := m.find(collection, id); item != nil {
		return mustRecord(item), true
	}
	return nil, false
}

func (m *MemoryItemStore) Create(ctx context.Context, collection string, fields any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StoreCall{Op: apperrors.OpCreate, Collection: collection})

	if err := m.failure(apperrors.OpCreate, collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpCreate, Collection: collection, Err: err}
	}

	values, err := toFields(fields)
	if err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpCreate, Collection: collection, Err: err}
	}
	return mustRecord(m.insert(collection, values)), nil
}

func (m *MemoryItemStore) List(ctx context.Context, collection string, q Query) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StoreCall{Op: apperrors.OpRead, Collection: collection})

	if err := m.failure(apperrors.OpRead, collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpRead, Collection: collection, Err: err}
	}

	filter, err := normaliseFilter(q.Filter)
	if err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpRead, Collection: collection, Err: err}
	}

	var out []Record
	for _, item := range m.items[collection] {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if matches(item, filter) {
			out = append(out, mustRecord(item))
		}
	}
	return out, nil
}

func (m *MemoryItemStore) Update(ctx context.Context, collection string, id models.ItemID, fields any) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StoreCall{Op: apperrors.OpUpdate, Collection: collection, ID: id})

	if err := m.failure(apperrors.OpUpdate, collection); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpUpdate, Collection: collection, Err: err}
	}

	item := m.find(collection, id)
	if item == nil {
		return nil, &apperrors.RemoteError{
			Op:         apperrors.OpUpdate,
			Collection: collection,
			StatusCode: 404,
			Err:        apperrors.ErrNotFound,
		}
	}

	values, err := toFields(fields)
	if err != nil {
		return nil, &apperrors.RemoteError{Op: apperrors.OpUpdate, Collection: collection, Err: err}
	}
	for k, v := range values {
		if k != "id" {
			item[k] = v
		}
	}
	return mustRecord(item), nil
}

func (m *MemoryItemStore) insert(collection string, fields map[string]any) map[string]any {
	if _, ok := fields["id"]; !ok {
		m.nextID[collection]++
		fields["id"] = json.Number(strconv.Itoa(m.nextID[collection]))
	} else if n, err := strconv.Atoi(fmt.Sprint(fields["id"])); err == nil && n > m.nextID[collection] {
		m.nextID[collection] = n
	}
	m.items[collection] = append(m.items[collection], fields)
	return fields
}

func (m *MemoryItemStore) find(collection string, id models.ItemID) map[string]any {
	for _, item := range m.items[collection] {
		if fmt.Sprint(item["id"]) == id.String() {
			return item
		}
	}
	return nil
}

func (m *MemoryItemStore) failure(op apperrors.RemoteOp, collection string) error {
	if err, ok := m.failures[failureKey(op, collection)]; ok {
		return &apperrors.RemoteError{Op: op, Collection: collection, StatusCode: 503, Err: err}
	}
	return nil
}

func failureKey(op apperrors.RemoteOp, collection string) string {
	return string(op) + ":" + collection
}

func toFields(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	fields := make(map[string]any)
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func mustRecord(item map[string]any) Record {
	data, err := json.Marshal(item)
	if err != nil {
		panic(err)
	}
	return Record(data)
}

func normaliseFilter(f Filter) (map[string]map[string]any, error) {
	if len(f) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(item map[string]any, filter map[string]map[string]any) bool {
	for field, ops := range filter {
		got := fmt.Sprint(item[field])
		for op, want := range ops {
			switch op {
			case "_eq":
				if got != fmt.Sprint(want) {
					return false
				}
			case "_in":
				list, _ := want.([]any)
				found := false
				for _, w := range list {
					if got == fmt.Sprint(w) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}
