// Package checkout turns a cart into a PENDING order, reserving every line
// or none.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
)

const DefaultHoldTTL = 5 * time.Minute

// Line is one requested cart entry.
type Line struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

var ErrEmptyCart = fmt.Errorf("%w: cart is empty", orders.ErrInvalidOrder)

// InvalidLineError reports a cart entry rejected before any hold is placed.
type InvalidLineError struct {
	Index  int
	Reason string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

func (e *InvalidLineError) Is(target error) bool { return target == orders.ErrInvalidOrder }

// Ledger is what checkout needs from the stock ledger. When the ledger also
// implements inventory.BatchReserver the whole cart is reserved in one
// native transaction; otherwise holds are placed one at a time and
// compensated on failure.
type Ledger interface {
	Reserve(ctx context.Context, sku string, qty int) (inventory.Product, error)
	Release(ctx context.Context, sku string, qty int) error
}

type OrderCreator interface {
	Create(ctx context.Context, o orders.Order) (orders.Order, error)
}

type Orchestrator struct {
	Ledger   Ledger
	Orders   OrderCreator
	Events   orders.Publisher
	Log      *zap.Logger
	Producer string
	Clock    func() time.Time
	HoldTTL  time.Duration
}

func (c *Orchestrator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Orchestrator) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

func (c *Orchestrator) ttl() time.Duration {
	if c.HoldTTL > 0 {
		return c.HoldTTL
	}
	return DefaultHoldTTL
}

// Checkout reserves every line for userRef and records a PENDING order.
// On any failure nothing stays reserved; a shortfall surfaces as
// *inventory.InsufficientStockError naming the SKU.
func (c *Orchestrator) Checkout(ctx context.Context, userRef string, lines []Line) (orders.Order, error) {
	holds, err := validate(lines)
	if err != nil {
		return orders.Order{}, err
	}

	reserved, err := c.reserve(ctx, holds)
	if err != nil {
		c.log().Info("checkout rejected", zap.String("userRef", userRef), zap.Error(err))
		return orders.Order{}, err
	}

	prices := make(map[string]inventory.Product, len(reserved))
	for _, p := range reserved {
		prices[p.SKU] = p
	}
	items := make([]orders.Item, 0, len(holds))
	for _, h := range inRequestOrder(lines, holds) {
		items = append(items, orders.Item{SKU: h.SKU, Quantity: h.Quantity, Price: prices[h.SKU].Price})
	}

	o, err := c.Orders.Create(ctx, orders.NewPending(userRef, items, c.now(), c.ttl()))
	if err != nil {
		c.compensate(context.WithoutCancel(ctx), holds)
		return orders.Order{}, fmt.Errorf("create order: %w", err)
	}

	c.log().Info("checkout placed",
		zap.Int64("orderId", o.ID),
		zap.String("userRef", userRef),
		zap.Int("lines", len(o.Items)),
		zap.String("total", o.TotalAmount.String()),
		zap.Time("expiresAt", o.ExpiresAt))
	orders.Publish(ctx, c.Events, c.log(), c.Producer, o)
	return o, nil
}

func (c *Orchestrator) reserve(ctx context.Context, holds []inventory.Hold) ([]inventory.Product, error) {
	if br, ok := c.Ledger.(inventory.BatchReserver); ok {
		return br.ReserveAll(ctx, holds)
	}

	out := make([]inventory.Product, 0, len(holds))
	for i, h := range holds {
		p, err := c.Ledger.Reserve(ctx, h.SKU, h.Quantity)
		if err != nil {
			c.compensate(context.WithoutCancel(ctx), holds[:i])
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// compensate releases holds in reverse acquisition order.
func (c *Orchestrator) compensate(ctx context.Context, holds []inventory.Hold) {
	for i := len(holds) - 1; i >= 0; i-- {
		h := holds[i]
		if err := c.Ledger.Release(ctx, h.SKU, h.Quantity); err != nil {
			c.log().Error("checkout rollback release failed",
				zap.String("sku", h.SKU),
				zap.Int("quantity", h.Quantity),
				zap.Error(err))
		}
	}
}

// validate rejects malformed lines and returns the merged holds sorted by SKU.
func validate(lines []Line) ([]inventory.Hold, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	holds := make([]inventory.Hold, 0, len(lines))
	for i, l := range lines {
		sku := strings.TrimSpace(l.SKU)
		switch {
		case sku == "":
			return nil, &InvalidLineError{Index: i, Reason: "sku is required"}
		case l.Quantity < 1:
			return nil, &InvalidLineError{Index: i, Reason: "quantity must be at least 1"}
		}
		holds = append(holds, inventory.Hold{SKU: sku, Quantity: l.Quantity})
	}
	return inventory.SortHolds(holds), nil
}

// inRequestOrder lists merged holds in the order each SKU first appeared.
func inRequestOrder(lines []Line, merged []inventory.Hold) []inventory.Hold {
	qty := make(map[string]int, len(merged))
	for _, h := range merged {
		qty[h.SKU] = h.Quantity
	}
	out := make([]inventory.Hold, 0, len(merged))
	for _, l := range lines {
		sku := strings.TrimSpace(l.SKU)
		if q, ok := qty[sku]; ok {
			out = append(out, inventory.Hold{SKU: sku, Quantity: q})
			delete(qty, sku)
		}
	}
	return out
}
