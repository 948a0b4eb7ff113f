// Package cart keeps per-session shopping carts and notifies listeners when
// their item count changes.
package cart

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

type Service struct {
	store  repository.CartStore
	broker *Broker
	logger *logging.LoggerV2
}

func NewService(store repository.CartStore, broker *Broker, logger *logging.LoggerV2) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: logger,
	}
}

// Broker returns the broker count changes are published on.
func (s *Service) Broker() *Broker {
	return s.broker
}

// Get returns the cart lines of a session. An unknown session has an empty cart.
func (s *Service) Get(ctx context.Context, sessionID string) ([]models.CartLine, error) {
	lines, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []models.CartLine{}
	}
	return lines, nil
}

// Add increases the quantity of a product, adding a line when it is new.
func (s *Service) Add(ctx context.Context, sessionID string, productID models.ItemID, quantity int) ([]models.CartLine, error) {
	if productID == "" {
		return nil, apperrors.NewValidationError("productId", "is required")
	}
	if quantity < 1 {
		return nil, apperrors.NewValidationError("quantity", "must be a positive integer")
	}

	lines, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	found := false
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity += quantity
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, models.CartLine{ProductID: productID, Quantity: quantity})
	}

	if err := s.save(ctx, sessionID, lines); err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added", logging.Fields{
		"session_id": sessionID,
		"product_id": productID,
		"quantity":   quantity,
	})
	return lines, nil
}

// Remove drops a product's line. It reports whether the product was in the cart.
func (s *Service) Remove(ctx context.Context, sessionID string, productID models.ItemID) (bool, error) {
	lines, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	kept := lines[:0]
	removed := false
	for _, l := range lines {
		if l.ProductID == productID {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	if !removed {
		return false, nil
	}

	return true, s.save(ctx, sessionID, kept)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.broker.Publish(sessionID, 0)
	return nil
}

// Count is the total quantity across all lines.
func (s *Service) Count(ctx context.Context, sessionID string) (int, error) {
	lines, err := s.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return countLines(lines), nil
}

func (s *Service) save(ctx context.Context, sessionID string, lines []models.CartLine) error {
	if err := s.store.Save(ctx, sessionID, lines); err != nil {
		return err
	}
	s.broker.Publish(sessionID, countLines(lines))
	return nil
}

func countLines(lines []models.CartLine) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}
