package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[int64]*Order)}
}

func (s *MemoryStore) Create(_ context.Context, o Order) (Order, error) {
	if len(o.Items) == 0 {
		return Order{}, ErrInvalidOrder
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	stored := o.clone()
	s.orders[o.ID] = &stored
	return stored.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userRef string) ([]Order, error) {
	return s.filter(func(o *Order) bool { return o.UserRef == userRef }), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Order, error) {
	return s.filter(func(*Order) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(*Order) bool) []Order {
	s.mu.Lock()
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderDate.Equal(out[j].OrderDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].OrderDate.After(out[j].OrderDate)
	})
	return out
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	var due []*Order
	for _, o := range s.orders {
		if o.Status == StatusPending && o.Lapsed(now) {
			due = append(due, o)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, len(due))
	for i, o := range due {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *MemoryStore) Transition(_ context.Context, id int64, to Status, now time.Time) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if !allows(*o, to, now) {
		return Order{}, ErrNotPending
	}
	o.Status = to
	o.UpdatedAt = now.UTC()
	return o.clone(), nil
}
