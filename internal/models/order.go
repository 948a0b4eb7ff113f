package models

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Item store collection names.
const (
	CollectionOrders     = "orders"
	CollectionOrderItems = "order_items"
	CollectionProducts   = "products"
	CollectionTypes      = "types"
	CollectionModels     = "models"
)

// ItemID is an item store primary key. The store may render keys as JSON numbers
// or strings; both decode to the same textual form.
type ItemID string

func (id ItemID) String() string { return string(id) }

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ItemID(n.String())
	return nil
}

// Order is one customer purchase intent as stored in the orders collection.
// Amount is authoritative only after the submission flow has priced the order.
type Order struct {
	ID        ItemID          `json:"id"`
	Status    string          `json:"status,omitempty"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	Email     string          `json:"email"`
	City      string          `json:"city"`
	Notes     string          `json:"notes"`
	AdSource  string          `json:"ad_source"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt Timestamp       `json:"created_at"`
}

// OrderItem is one purchased line. Price is the unit price snapshot taken at order time.
type OrderItem struct {
	ID       ItemID          `json:"id,omitempty"`
	Order    ItemID          `json:"order"`
	Product  ItemID          `json:"product"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Subtotal returns price × quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartLine is a client-controlled cart entry: only the product and quantity are trusted.
type CartLine struct {
	ProductID ItemID `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// SubmitOrderRequest is the body of POST /api/orders. Any price or amount the client
// sends is not modelled and therefore ignored.
type SubmitOrderRequest struct {
	Name     string      `json:"name"`
	Phone    string      `json:"phone"`
	Email    string      `json:"email"`
	City     string      `json:"city"`
	Notes    string      `json:"notes"`
	Items    []CartLine  `json:"items"`
	AdSource string      `json:"ad_source"`
	UTM      Attribution `json:"utm"`
}

// PricedLine is a cart entry resolved against the catalog.
type PricedLine struct {
	ProductID ItemID
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l PricedLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SubmitOrderResult is returned to the caller once the order has been priced.
type SubmitOrderResult struct {
	OrderID     ItemID
	TotalAmount decimal.Decimal
}

func (r SubmitOrderResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Success     bool        `json:"success"`
		OrderID     ItemID      `json:"orderId"`
		TotalAmount json.Number `json:"totalAmount"`
	}{
		Success:     true,
		OrderID:     r.OrderID,
		TotalAmount: Number(r.TotalAmount),
	})
}

// RequestMeta is transport metadata captured for the operator notification.
type RequestMeta struct {
	ClientIP       string
	UserAgent      string
	Referer        string
	RequestID      string
	IdempotencyKey string
}

// Number renders a decimal as a bare JSON number.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
