package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one order line. Price is the unit price snapshotted when the hold
// was placed; later catalog price changes never reach it.
type Item struct {
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a hold on stock until ExpiresAt, then a terminal record kept for audit.
// Everything except Status and UpdatedAt is written once at creation.
type Order struct {
	ID          int64           `json:"id"`
	UserRef     string          `json:"userRef"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	OrderDate   time.Time       `json:"orderDate"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	Status      Status          `json:"status"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// NewPending builds an unsaved PENDING order holding items for ttl.
func NewPending(userRef string, items []Item, now time.Time, ttl time.Duration) Order {
	now = now.UTC()
	return Order{
		UserRef:     userRef,
		Items:       append([]Item(nil), items...),
		TotalAmount: Total(items),
		OrderDate:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      StatusPending,
		UpdatedAt:   now,
	}
}

func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// Lapsed reports whether the hold deadline has passed at now.
func (o Order) Lapsed(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

func (o Order) clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}
