// Package sweeper expires PENDING orders whose hold deadline has passed.
package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-stock-holds/internal/orders"
)

type Finder interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type Expirer interface {
	Expire(ctx context.Context, id int64) (orders.Order, error)
}

// Sweeper periodically expires lapsed orders. Several sweepers may run
// against the same store: the conditional transition inside Expire lets only
// one of them release a given order.
type Sweeper struct {
	Finder    Finder
	Expirer   Expirer
	Log       *zap.Logger
	Interval  time.Duration
	BatchSize int
	Workers   int
	Clock     func() time.Time
}

// Result summarises one sweep.
type Result struct {
	Found   int
	Expired int
	Skipped int
	Failed  int
}

func (s *Sweeper) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Sweeper) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log().Info("expiry sweeper started",
		zap.Duration("interval", interval),
		zap.Int("batchSize", s.BatchSize),
		zap.Int("workers", s.Workers))

	for {
		select {
		case <-ctx.Done():
			s.log().Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log().Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce expires one batch of lapsed orders. A failure on one order is
// logged and does not stop the rest; only a failed scan is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	limit := s.BatchSize
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.Finder.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return Result{}, nil
	}

	var expired, skipped, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.Expirer.Expire(gctx, id)
			switch {
			case err == nil:
				expired.Add(1)
			case errors.Is(err, orders.ErrAlreadyFinalized), errors.Is(err, orders.ErrNotDue):
				// another sweeper or a client got there first
				skipped.Add(1)
			default:
				failed.Add(1)
				s.log().Warn("expire order failed", zap.Int64("orderId", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Found:   len(ids),
		Expired: int(expired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	s.log().Debug("sweep finished",
		zap.Int("found", res.Found),
		zap.Int("expired", res.Expired),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}
