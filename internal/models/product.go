package models

import "github.com/shopspring/decimal"

// Product is the read-only catalog view consumed by the submission flow.
type Product struct {
	ID            ItemID              `json:"id"`
	Title         string              `json:"title"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price"`
	Status        string              `json:"status,omitempty"`
	DateUpdated   Timestamp           `json:"date_updated"`
}

// UnitPrice is the price a buyer pays: the discount price when set and non-zero,
// otherwise the list price.
func (p Product) UnitPrice() decimal.Decimal {
	if p.DiscountPrice.Valid && !p.DiscountPrice.Decimal.IsZero() {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}

// CatalogEntry is any titled collection entry published in the sitemap.
type CatalogEntry struct {
	ID          ItemID    `json:"id"`
	Title       string    `json:"title"`
	DateUpdated Timestamp `json:"date_updated"`
}
