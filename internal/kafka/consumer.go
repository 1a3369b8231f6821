package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit synchronously after each handled message
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: defaultRetryBackoff}
}

// Start fetches until ctx is done. Each partition is pinned to one worker,
// so its messages are handled and committed in offset order. A failing
// message is retried in place with backoff and nothing behind it on that
// partition moves until it succeeds. Handlers should drop messages they can
// never process instead of returning an error.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Warn("kafka reader close failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	lanes := make([]chan kafka.Message, c.workers)
	for i := range lanes {
		lane := make(chan kafka.Message, 4)
		lanes[i] = lane
		g.Go(func() error {
			for m := range lane {
				if !c.handle(gctx, h, m) {
					return nil
				}
				if err := c.r.CommitMessages(gctx, m); err != nil && gctx.Err() == nil {
					c.log.Warn("commit failed",
						zap.Int("partition", m.Partition),
						zap.Int64("offset", m.Offset),
						zap.Error(err))
				}
			}
			return nil
		})
	}

	var fetchErr error
fetch:
	for {
		m, err := c.r.FetchMessage(gctx)
		if err != nil {
			if gctx.Err() == nil && !errors.Is(err, context.Canceled) {
				fetchErr = err
			}
			break
		}
		select {
		case lanes[laneFor(m.Partition, c.workers)] <- m:
		case <-gctx.Done():
			break fetch
		}
	}
	for _, lane := range lanes {
		close(lane)
	}
	_ = g.Wait()
	return fetchErr
}

// handle runs h until it succeeds, reporting false if ctx ends first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler failed, retrying",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		wait = min(wait*2, maxRetryBackoff)
	}
}

func laneFor(partition, lanes int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % lanes
}
