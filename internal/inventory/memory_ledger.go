package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// cell holds one SKU's counters behind its own lock so operations on
// different SKUs never contend.
type cell struct {
	mu   sync.Mutex
	p    Product
	gone bool
}

// MemoryLedger implements Store in process memory.
type MemoryLedger struct {
	mu    sync.RWMutex // guards the maps, not the counters
	cells map[string]*cell
	lower map[string]string // lower(trim(sku)) -> sku
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		cells: make(map[string]*cell),
		lower: make(map[string]string),
	}
}

func (l *MemoryLedger) lookup(sku string) (*cell, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.cells[sku]
	return c, ok
}

// with runs fn while holding the SKU's lock.
func (l *MemoryLedger) with(sku string, fn func(p *Product) error) error {
	c, ok := l.lookup(sku)
	if !ok {
		return ErrProductNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return ErrProductNotFound
	}
	return fn(&c.p)
}

func (l *MemoryLedger) Reserve(_ context.Context, sku string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrInvalidQuantity
	}
	var out Product
	err := l.with(sku, func(p *Product) error {
		if avail := p.Available(); avail < qty {
			return &InsufficientStockError{SKU: sku, Requested: qty, Available: avail}
		}
		p.ReservedQuantity += qty
		p.UpdatedAt = time.Now().UTC()
		out = *p
		return nil
	})
	return out, err
}

// ReserveAll applies every hold or none. Locks are taken in ascending SKU order.
func (l *MemoryLedger) ReserveAll(ctx context.Context, holds []Hold) ([]Product, error) {
	sorted := SortHolds(holds)
	out := make([]Product, 0, len(sorted))
	for i, h := range sorted {
		p, err := l.Reserve(ctx, h.SKU, h.Quantity)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = l.Release(ctx, sorted[j].SKU, sorted[j].Quantity)
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (l *MemoryLedger) Release(_ context.Context, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return l.with(sku, func(p *Product) error {
		p.ReservedQuantity -= min(qty, p.ReservedQuantity)
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (l *MemoryLedger) Commit(_ context.Context, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return l.with(sku, func(p *Product) error {
		if p.ReservedQuantity < qty {
			return &InvariantViolationError{
				SKU: sku, Op: "commit", Reserved: p.ReservedQuantity, Total: p.TotalQuantity, Quantity: qty,
			}
		}
		p.ReservedQuantity -= qty
		p.TotalQuantity -= qty
		p.SoldQuantity += qty
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Get falls back to a trimmed, case-insensitive match when sku is unknown.
func (l *MemoryLedger) Get(_ context.Context, sku string) (Product, error) {
	c, ok := l.lookup(sku)
	if !ok {
		l.mu.RLock()
		exact, found := l.lower[strings.ToLower(strings.TrimSpace(sku))]
		c, ok = l.cells[exact]
		l.mu.RUnlock()
		if !found || !ok {
			return Product{}, ErrProductNotFound
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return Product{}, ErrProductNotFound
	}
	return c.p, nil
}

func (l *MemoryLedger) List(_ context.Context) ([]Product, error) {
	l.mu.RLock()
	cells := make([]*cell, 0, len(l.cells))
	for _, c := range l.cells {
		cells = append(cells, c)
	}
	l.mu.RUnlock()

	out := make([]Product, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		if !c.gone {
			out = append(out, c.p)
		}
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (l *MemoryLedger) CreateProduct(_ context.Context, p Product) (Product, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	if p.SKU == "" || p.TotalQuantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	key := strings.ToLower(p.SKU)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.lower[key]; ok {
		return Product{}, ErrProductExists
	}
	now := time.Now().UTC()
	p.ReservedQuantity, p.SoldQuantity = 0, 0
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Unit == "" {
		p.Unit = DefaultUnit
	}
	l.cells[p.SKU] = &cell{p: p}
	l.lower[key] = p.SKU
	return p, nil
}

func (l *MemoryLedger) UpdateProduct(_ context.Context, sku string, u ProductUpdate) (Product, error) {
	if u.TotalQuantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	var out Product
	err := l.with(sku, func(p *Product) error {
		if u.TotalQuantity < p.ReservedQuantity {
			return ErrBelowReserved
		}
		p.TotalQuantity = u.TotalQuantity
		if u.Price != nil {
			p.Price = *u.Price
		}
		if u.Unit != nil && *u.Unit != "" {
			p.Unit = *u.Unit
		}
		if u.ImageURL != nil && *u.ImageURL != "" {
			p.ImageURL = *u.ImageURL
		}
		p.UpdatedAt = time.Now().UTC()
		out = *p
		return nil
	})
	return out, err
}

func (l *MemoryLedger) DeleteProduct(_ context.Context, sku string) error {
	err := l.with(sku, func(p *Product) error {
		if p.ReservedQuantity > 0 {
			return ErrHasReservations
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cells[sku]
	if !ok {
		return ErrProductNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// a reserve may have slipped in between the check and the map lock
	if c.p.ReservedQuantity > 0 {
		return ErrHasReservations
	}
	c.gone = true
	delete(l.cells, sku)
	delete(l.lower, strings.ToLower(sku))
	return nil
}
