package orders

import (
	"context"
	"time"
)

// Store is the durable record of orders. Status is only ever changed through
// Transition, a single atomic check-and-set guarded as described on allows.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	// ListByUser and ListAll return newest orders first.
	ListByUser(ctx context.Context, userRef string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	// ListExpired returns up to limit PENDING order ids with expiresAt <= now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// Transition moves a PENDING order to `to`, or fails with ErrNotPending
	// when the guard does not hold (ErrOrderNotFound for unknown ids may be
	// reported as ErrNotPending too).
	Transition(ctx context.Context, id int64, to Status, now time.Time) (Order, error)
}

// Settler is implemented by stores that can apply a transition and the
// ledger effect of every line as one unit: on error nothing has changed.
type Settler interface {
	Settle(ctx context.Context, id int64, to Status, now time.Time) (Order, error)
}
