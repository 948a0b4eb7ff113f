package service

import (
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// Catalog is a price snapshot keyed by product id.
type Catalog map[models.ItemID]models.Product

// NewCatalog indexes products by id.
func NewCatalog(products []models.Product) Catalog {
	c := make(Catalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

// PriceLines resolves every cart line against the catalog and returns the priced
// lines with their grand total. Any unknown product fails the whole cart.
func PriceLines(items []models.CartLine, catalog Catalog) ([]models.PricedLine, decimal.Decimal, error) {
	lines := make([]models.PricedLine, 0, len(items))
	total := decimal.Zero

	for _, item := range items {
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, decimal.Zero, &apperrors.ProductNotFoundError{ProductID: item.ProductID.String()}
		}

		line := models.PricedLine{
			ProductID: item.ProductID,
			Title:     product.Title,
			Quantity:  item.Quantity,
			UnitPrice: product.UnitPrice(),
		}
		total = total.Add(line.Subtotal())
		lines = append(lines, line)
	}

	return lines, total, nil
}

// productIDs returns the distinct product ids of a cart in first-seen order.
func productIDs(items []models.CartLine) []models.ItemID {
	seen := make(map[models.ItemID]struct{}, len(items))
	ids := make([]models.ItemID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
