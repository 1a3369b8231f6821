package inventory

import (
	"context"
	"sort"
)

// Ledger is the single source of truth for per-SKU availability.
//
// Reserve checks available >= qty and increments reserved in one atomic step.
// Release decrements reserved, clamping at zero. Commit moves qty out of both
// reserved and total (a sale) and fails with ErrInvariantViolation when fewer
// than qty units are reserved.
type Ledger interface {
	Reserve(ctx context.Context, sku string, qty int) (Product, error)
	Release(ctx context.Context, sku string, qty int) error
	Commit(ctx context.Context, sku string, qty int) error
	Get(ctx context.Context, sku string) (Product, error)
	List(ctx context.Context) ([]Product, error)
}

// BatchReserver is implemented by ledgers that can reserve several SKUs in a
// single native transaction: either every hold is applied or none is.
type BatchReserver interface {
	ReserveAll(ctx context.Context, holds []Hold) ([]Product, error)
}

// Catalog is the write surface used by catalog management. Edits never
// break 0 <= reserved <= total.
type Catalog interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, sku string, u ProductUpdate) (Product, error)
	DeleteProduct(ctx context.Context, sku string) error
}

type Store interface {
	Ledger
	Catalog
}

// SortHolds merges duplicate SKUs and orders holds by ascending SKU, the lock
// acquisition order every multi-SKU caller must use.
func SortHolds(holds []Hold) []Hold {
	merged := make(map[string]int, len(holds))
	for _, h := range holds {
		merged[h.SKU] += h.Quantity
	}
	out := make([]Hold, 0, len(merged))
	for sku, qty := range merged {
		out = append(out, Hold{SKU: sku, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}
