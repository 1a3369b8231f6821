package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one stock-keeping unit. Quantities change only through a Ledger.
type Product struct {
	SKU              string          `json:"sku"`
	TotalQuantity    int             `json:"totalQuantity"`
	ReservedQuantity int             `json:"reservedQuantity"`
	SoldQuantity     int             `json:"soldQuantity"`
	Price            decimal.Decimal `json:"price"`
	Unit             string          `json:"unit"`
	ImageURL         string          `json:"imageUrl"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Available is the quantity purchasable right now.
func (p Product) Available() int {
	return p.TotalQuantity - p.ReservedQuantity
}

// Hold is a requested reservation of Quantity units of SKU.
type Hold struct {
	SKU      string
	Quantity int
}

// ProductUpdate carries a catalog edit. Nil fields are left untouched.
type ProductUpdate struct {
	TotalQuantity int
	Price         *decimal.Decimal
	Unit          *string
	ImageURL      *string
}

const DefaultUnit = "Piece"
