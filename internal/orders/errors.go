package orders

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("order must have at least one item with positive quantity")
	// ErrAlreadyFinalized is a no-op outcome: the order had already reached
	// a terminal state and the caller gets that state back.
	ErrAlreadyFinalized   = errors.New("order already processed")
	ErrReservationExpired = errors.New("reservation expired")
	ErrNotDue             = errors.New("reservation has not reached its deadline")
	// ErrNotPending is returned by a Store when the conditional transition
	// matched no row.
	ErrNotPending = errors.New("order not in a transitionable state")
)
