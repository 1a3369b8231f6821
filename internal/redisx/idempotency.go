package redisx

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

var ErrIdempotencyInFlight = errors.New("a request with this idempotency key is still in progress")

// Idempotency remembers which order a client-supplied checkout key produced,
// so a retried POST returns the first order instead of reserving twice.
type Idempotency struct {
	RDB redis.Cmdable
}

// Begin claims key for userRef. It returns the earlier order id when the
// key already completed, or ErrIdempotencyInFlight while another request
// holds it.
func (i *Idempotency) Begin(ctx context.Context, userRef, key string) (prior int64, fresh bool, err error) {
	k := IdemCheckoutKey(userRef, key)
	ok, err := i.RDB.SetNX(ctx, k, idemPending, TTLIdemPending).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// pending claim lapsed between the two calls; let the caller retry
		return 0, false, ErrIdempotencyInFlight
	}
	if err != nil {
		return 0, false, err
	}
	if v == idemPending {
		return 0, false, ErrIdempotencyInFlight
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, userRef, key string, orderID int64) error {
	return i.RDB.Set(ctx, IdemCheckoutKey(userRef, key), strconv.FormatInt(orderID, 10), TTLIdempotency).Err()
}

// Abort frees a claimed key after a failed checkout so the client may retry.
func (i *Idempotency) Abort(ctx context.Context, userRef, key string) error {
	return i.RDB.Del(ctx, IdemCheckoutKey(userRef, key)).Err()
}
