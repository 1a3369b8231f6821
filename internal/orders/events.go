package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderCompleted = "OrderCompleted"
	EventOrderCancelled = "OrderCancelled"
	EventOrderExpired   = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID     int64           `json:"order_id"`
	UserRef     string          `json:"user_ref"`
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type OrderFinalizedPayload struct {
	OrderID     int64  `json:"order_id"`
	UserRef     string `json:"user_ref"`
	FinalStatus Status `json:"final_status"`
	Items       []Item `json:"items"`
}

// Publisher ships lifecycle envelopes. Delivery is best effort: the order
// store, not the event stream, is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }

func EventTypeFor(s Status) string {
	switch s {
	case StatusCompleted:
		return EventOrderCompleted
	case StatusCancelled:
		return EventOrderCancelled
	case StatusExpired:
		return EventOrderExpired
	default:
		return EventOrderCreated
	}
}

// NewEnvelope wraps the lifecycle event matching o's current status.
func NewEnvelope(producer, traceID string, o Order) (Envelope, error) {
	var payload any
	if o.Status == StatusPending {
		payload = OrderCreatedPayload{
			OrderID: o.ID, UserRef: o.UserRef, Items: o.Items, TotalAmount: o.TotalAmount, ExpiresAt: o.ExpiresAt,
		}
	} else {
		payload = OrderFinalizedPayload{OrderID: o.ID, UserRef: o.UserRef, FinalStatus: o.Status, Items: o.Items}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", o.Status, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventTypeFor(o.Status),
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: fmt.Sprintf("%d", o.ID),
		Payload:       b,
	}, nil
}
