package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Ledger is the part of the stock ledger the state machine drives.
type Ledger interface {
	Commit(ctx context.Context, sku string, qty int) error
	Release(ctx context.Context, sku string, qty int) error
}

// Service runs the order state machine. Every transition is an atomic
// check-and-set and only the caller that wins it touches the ledger, so
// confirm, cancel and expire racing on one order apply exactly once.
type Service struct {
	Store    Store
	Ledger   Ledger
	Events   Publisher
	Log      *zap.Logger
	Producer string
	Clock    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userRef string) ([]Order, error) {
	return s.Store.ListByUser(ctx, userRef)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.Store.ListAll(ctx)
}

// Confirm completes a PENDING order before its deadline and commits every
// line in the ledger. A lapsed hold is rejected with ErrReservationExpired
// instead of being transitioned.
func (s *Service) Confirm(ctx context.Context, id int64) (Order, error) {
	now := s.now()
	o, err := s.apply(ctx, id, StatusCompleted, now)
	if errors.Is(err, ErrNotPending) || errors.Is(err, ErrOrderNotFound) {
		return s.rejection(ctx, id, StatusCompleted, now)
	}
	if err != nil {
		return o, fmt.Errorf("confirm order %d: %w", id, err)
	}
	s.log().Info("order completed", zap.Int64("orderId", id), zap.String("userRef", o.UserRef))
	s.publish(ctx, o)
	return o, nil
}

// Cancel releases a PENDING order's holds. Cancelling a hold whose deadline
// has already passed expires it instead and reports ErrReservationExpired.
func (s *Service) Cancel(ctx context.Context, id int64) (Order, error) {
	now := s.now()
	o, err := s.apply(ctx, id, StatusCancelled, now)
	if errors.Is(err, ErrNotPending) || errors.Is(err, ErrOrderNotFound) {
		cur, rerr := s.rejection(ctx, id, StatusCancelled, now)
		if !errors.Is(rerr, ErrReservationExpired) || cur.Status != StatusPending {
			return cur, rerr
		}
		expired, xerr := s.expireAt(ctx, id, now)
		if xerr != nil && !errors.Is(xerr, ErrAlreadyFinalized) {
			return expired, xerr
		}
		return expired, ErrReservationExpired
	}
	if err != nil {
		return o, fmt.Errorf("cancel order %d: %w", id, err)
	}
	s.log().Info("order cancelled", zap.Int64("orderId", id), zap.String("userRef", o.UserRef))
	s.publish(ctx, o)
	return o, nil
}

// Expire moves a lapsed PENDING order to EXPIRED and releases its holds.
// It fails with ErrAlreadyFinalized when the order is no longer PENDING and
// with ErrNotDue when the deadline has not passed.
func (s *Service) Expire(ctx context.Context, id int64) (Order, error) {
	return s.expireAt(ctx, id, s.now())
}

func (s *Service) expireAt(ctx context.Context, id int64, now time.Time) (Order, error) {
	o, err := s.apply(ctx, id, StatusExpired, now)
	if errors.Is(err, ErrNotPending) || errors.Is(err, ErrOrderNotFound) {
		return s.rejection(ctx, id, StatusExpired, now)
	}
	if err != nil {
		return o, fmt.Errorf("expire order %d: %w", id, err)
	}
	s.log().Info("order expired", zap.Int64("orderId", id), zap.Time("expiresAt", o.ExpiresAt))
	s.publish(ctx, o)
	return o, nil
}

// apply performs the transition to `to` together with its ledger effect.
// The caller's cancellation is dropped so a final status is never left
// without its stock effect. A Settler store does both in one transaction. Otherwise the status write
// goes first and only its winner touches the ledger.
func (s *Service) apply(ctx context.Context, id int64, to Status, now time.Time) (Order, error) {
	ctx = context.WithoutCancel(ctx)
	if st, ok := s.Store.(Settler); ok {
		return st.Settle(ctx, id, to, now)
	}
	o, err := s.Store.Transition(ctx, id, to, now)
	if err != nil {
		return Order{}, err
	}
	return o, s.settleLedger(ctx, o)
}

// settleLedger commits a completed order's lines or releases a cancelled or
// expired one's. A failing line does not stop the others.
func (s *Service) settleLedger(ctx context.Context, o Order) error {
	op, effect := s.Ledger.Release, "release"
	if o.Status == StatusCompleted {
		op, effect = s.Ledger.Commit, "commit"
	}
	var errs []error
	for _, it := range o.Items {
		if err := op(ctx, it.SKU, it.Quantity); err != nil {
			s.log().Error("ledger "+effect+" failed",
				zap.Int64("orderId", o.ID),
				zap.String("status", string(o.Status)),
				zap.String("sku", it.SKU),
				zap.Int("quantity", it.Quantity),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s %s: %w", effect, it.SKU, err))
		}
	}
	return errors.Join(errs...)
}

// rejection explains why a transition to `to` did not apply, returning the
// order's current state alongside the classified error.
func (s *Service) rejection(ctx context.Context, id int64, to Status, now time.Time) (Order, error) {
	cur, err := s.Store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	switch {
	case to == StatusExpired && cur.Status.Terminal():
		return cur, ErrAlreadyFinalized
	case to == StatusExpired:
		return cur, ErrNotDue
	case cur.Status == StatusExpired:
		return cur, ErrReservationExpired
	case cur.Status.Terminal():
		return cur, ErrAlreadyFinalized
	case cur.Lapsed(now):
		return cur, ErrReservationExpired
	default:
		return cur, fmt.Errorf("order %d: %w", id, ErrNotPending)
	}
}

func (s *Service) publish(ctx context.Context, o Order) {
	Publish(context.WithoutCancel(ctx), s.Events, s.log(), s.Producer, o)
}

// Publish emits o's lifecycle event. Failures are logged, never returned.
func Publish(ctx context.Context, p Publisher, log *zap.Logger, producer string, o Order) {
	if p == nil {
		return
	}
	env, err := NewEnvelope(producer, traceID(ctx), o)
	if err == nil {
		err = p.Publish(ctx, env)
	}
	if err != nil {
		log.Warn("publish lifecycle event failed",
			zap.Int64("orderId", o.ID),
			zap.String("status", string(o.Status)),
			zap.Error(err))
	}
}

type traceKey struct{}

// WithTraceID tags ctx so lifecycle events carry the originating request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
