package cart

import (
	"context"
	"sync"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

// MemoryStore is an in-process CartStore used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string][]models.CartLine
}

var _ repository.CartStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]models.CartLine)}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]models.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines, ok := m.carts[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]models.CartLine(nil), lines...), nil
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, lines []models.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[sessionID] = append([]models.CartLine(nil), lines...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}
