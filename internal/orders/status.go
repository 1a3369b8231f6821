package orders

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true, StatusExpired: true},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// allows is the guard every store applies atomically with the status write:
// the order must be PENDING, and the deadline must have passed for EXPIRED
// and not yet passed for COMPLETED or CANCELLED.
func allows(o Order, to Status, now time.Time) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	if to == StatusExpired {
		return o.Lapsed(now)
	}
	return !o.Lapsed(now)
}
