package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-stock-holds/internal/orders"
)

var ErrCacheMiss = errors.New("cache miss")

// OrderCache is a read-through cache for finished orders. Only terminal
// orders are stored: their contents never change again, so entries need no
// invalidation. PENDING orders always go to the store.
//
// Redis sits behind a circuit breaker; while it is open reads fall straight
// through to the loader.
type OrderCache struct {
	rdb redis.Cmdable
	cb  *gobreaker.CircuitBreaker[[]byte]
	sfg singleflight.Group
	ttl time.Duration
	log *zap.Logger
}

func NewOrderCache(rdb redis.Cmdable, log *zap.Logger) *OrderCache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &OrderCache{rdb: rdb, ttl: TTLOrderCache, log: log}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "redis-order-cache",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

func (c *OrderCache) Get(ctx context.Context, id int64) (orders.Order, error) {
	b, err := c.cb.Execute(func() ([]byte, error) {
		b, err := c.rdb.Get(ctx, OrderKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return b, err
	})
	if err != nil {
		return orders.Order{}, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, fmt.Errorf("unmarshal order failed: %w", err)
	}
	return o, nil
}

// Put stores o if it is terminal; other orders are ignored.
func (c *OrderCache) Put(ctx context.Context, o orders.Order) error {
	if !o.Status.Terminal() {
		return nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}
	_, err = c.cb.Execute(func() ([]byte, error) {
		return nil, c.rdb.Set(ctx, OrderKey(o.ID), b, c.ttl).Err()
	})
	return err
}

// Fetch serves id from cache, or loads it once for all concurrent callers
// and caches the result when terminal.
func (c *OrderCache) Fetch(ctx context.Context, id int64, load func(context.Context, int64) (orders.Order, error)) (orders.Order, error) {
	o, err := c.Get(ctx, id)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.log.Debug("order cache read failed", zap.Int64("orderId", id), zap.Error(err))
	}

	v, err, _ := c.sfg.Do(strconv.FormatInt(id, 10), func() (any, error) {
		o, err := load(ctx, id)
		if err != nil {
			return orders.Order{}, err
		}
		if err := c.Put(context.WithoutCancel(ctx), o); err != nil {
			c.log.Debug("order cache write failed", zap.Int64("orderId", id), zap.Error(err))
		}
		return o, nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return v.(orders.Order), nil
}
