package redisx

import (
	"fmt"
	"time"
)

const (
	// idem:checkout:{user_ref}:{idempotency_key} -> "pending" | order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// order:{order_id} -> Order JSON, terminal orders only
	KeyOrder = "order:%d"

	// dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 30 * time.Minute
	TTLDedup       = 48 * time.Hour
	// a checkout that crashed mid-flight frees its key after this
	TTLIdemPending = 30 * time.Second
)

func OrderKey(id int64) string { return fmt.Sprintf(KeyOrder, id) }

func DedupKey(consumer, eventID string) string { return fmt.Sprintf(KeyDedup, consumer, eventID) }

func IdemCheckoutKey(userRef, key string) string { return fmt.Sprintf(KeyIdemCheckout, userRef, key) }
