// Package notify turns order lifecycle events into user notifications.
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-stock-holds/internal/kafka"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
	"github.com/ariefcatur/go-stock-holds/internal/redisx"
)

// Notice is what a user is told about their order.
type Notice struct {
	UserRef string
	OrderID int64
	Status  orders.Status
	Message string
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log; delivery channels plug in behind Notifier.
type LogNotifier struct{ Log *zap.Logger }

func (l LogNotifier) Notify(_ context.Context, n Notice) error {
	l.Log.Info("user notified",
		zap.String("userRef", n.UserRef),
		zap.Int64("orderId", n.OrderID),
		zap.String("status", string(n.Status)),
		zap.String("message", n.Message))
	return nil
}

const consumerName = "notifier"

type Service struct {
	Redis    redis.Cmdable
	Notifier Notifier
	Log      *zap.Logger
}

// HandleOrderEvent is installed as the lifecycle consumer handler. Each
// event id is handled at most once; creations are ignored.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	if kafkax.HeaderValue(m, kafkax.HeaderEventType) == orders.EventOrderCreated {
		return nil
	}
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// undecodable messages can never succeed; drop them
		s.Log.Error("dropping malformed lifecycle event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType == orders.EventOrderCreated {
		return nil
	}

	payload, err := kafkax.UnwrapPayload[orders.OrderFinalizedPayload](env.Payload)
	if err != nil {
		s.Log.Error("dropping lifecycle event with bad payload", zap.String("eventId", env.EventID), zap.Error(err))
		return nil
	}

	if s.Redis != nil {
		seen, err := redisx.Dedup(ctx, s.Redis, redisx.DedupKey(consumerName, env.EventID), redisx.TTLDedup)
		if err != nil {
			return fmt.Errorf("dedup %s: %w", env.EventID, err)
		}
		if seen {
			s.Log.Debug("duplicate lifecycle event", zap.String("eventId", env.EventID))
			return nil
		}
	}

	n := Notice{
		UserRef: payload.UserRef,
		OrderID: payload.OrderID,
		Status:  payload.FinalStatus,
		Message: messageFor(payload.FinalStatus, payload.OrderID),
	}
	if err := s.Notifier.Notify(ctx, n); err != nil {
		if s.Redis != nil {
			// let the redelivery try again
			_ = s.Redis.Del(context.WithoutCancel(ctx), redisx.DedupKey(consumerName, env.EventID)).Err()
		}
		return fmt.Errorf("notify order %d: %w", payload.OrderID, err)
	}
	return nil
}

func messageFor(s orders.Status, id int64) string {
	switch s {
	case orders.StatusCompleted:
		return fmt.Sprintf("Order #%d is confirmed.", id)
	case orders.StatusCancelled:
		return fmt.Sprintf("Order #%d was cancelled and its items released.", id)
	case orders.StatusExpired:
		return fmt.Sprintf("Your hold on order #%d expired before confirmation.", id)
	default:
		return fmt.Sprintf("Order #%d is now %s.", id, s)
	}
}
