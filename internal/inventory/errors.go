package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductExists      = errors.New("product already exists")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvariantViolation = errors.New("stock invariant violation")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrHasReservations    = errors.New("product has active reservations")
	// ErrBelowReserved rejects catalog edits that would strand live holds.
	ErrBelowReserved = errors.New("total quantity below reserved quantity")
)

// InsufficientStockError names the SKU that could not be reserved.
type InsufficientStockError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvariantViolationError reports an impossible counter state. It always
// points at a bug upstream of the ledger.
type InvariantViolationError struct {
	SKU      string
	Op       string
	Reserved int
	Total    int
	Quantity int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s %s: qty=%d reserved=%d total=%d",
		e.Op, e.SKU, e.Quantity, e.Reserved, e.Total)
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }
