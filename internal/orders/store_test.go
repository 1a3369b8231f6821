package orders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o, err := s.Create(ctx, NewPending("alice", []Item{item("A", 2), item("B", 1)}, base, 5*time.Minute))
		require.NoError(t, err)
		require.NotZero(t, o.ID)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserRef)
		assert.Equal(t, StatusPending, got.Status)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "A", got.Items[0].SKU)
		assert.True(t, got.TotalAmount.Equal(Total(got.Items)))
		assert.True(t, got.ExpiresAt.Equal(base.Add(5*time.Minute)))

		_, err = s.Get(ctx, o.ID+100)
		assert.ErrorIs(t, err, ErrOrderNotFound)

		_, err = s.Create(ctx, NewPending("alice", nil, base, time.Minute))
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("listing is newest first", func(t *testing.T) {
		s := newStore(t)
		for i, user := range []string{"alice", "bob", "alice"} {
			_, err := s.Create(ctx, NewPending(user, []Item{item("A", 1)}, base.Add(time.Duration(i)*time.Second), time.Minute))
			require.NoError(t, err)
		}
		mine, err := s.ListByUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.True(t, mine[0].OrderDate.After(mine[1].OrderDate))
		assert.Len(t, mine[0].Items, 1)

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "alice", all[0].UserRef)
	})

	t.Run("list expired respects deadline and limit", func(t *testing.T) {
		s := newStore(t)
		var ids []int64
		for i := 0; i < 3; i++ {
			o, err := s.Create(ctx, NewPending("u", []Item{item("A", 1)}, base.Add(time.Duration(i)*time.Minute), time.Minute))
			require.NoError(t, err)
			ids = append(ids, o.ID)
		}
		due, err := s.ListExpired(ctx, base.Add(2*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, ids[:2], due)

		due, err = s.ListExpired(ctx, base.Add(time.Hour), 1)
		require.NoError(t, err)
		assert.Equal(t, ids[:1], due)

		_, err = s.Transition(ctx, ids[0], StatusExpired, base.Add(time.Hour))
		require.NoError(t, err)
		due, err = s.ListExpired(ctx, base.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, ids[1:], due)
	})

	t.Run("transition guard", func(t *testing.T) {
		s := newStore(t)
		o, err := s.Create(ctx, NewPending("u", []Item{item("A", 1)}, base, time.Minute))
		require.NoError(t, err)

		_, err = s.Transition(ctx, o.ID, StatusExpired, base)
		assert.ErrorIs(t, err, ErrNotPending, "not due yet")
		_, err = s.Transition(ctx, o.ID, StatusCompleted, o.ExpiresAt)
		assert.ErrorIs(t, err, ErrNotPending, "lapsed")

		done, err := s.Transition(ctx, o.ID, StatusCompleted, base.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, done.Status)
		require.Len(t, done.Items, 1)

		_, err = s.Transition(ctx, o.ID, StatusCancelled, base.Add(time.Second))
		assert.ErrorIs(t, err, ErrNotPending)
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		s := newStore(t)
		o, err := s.Create(ctx, NewPending("u", []Item{item("A", 1)}, base, time.Minute))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		targets := []Status{StatusCompleted, StatusCancelled}
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(to Status) {
				defer wg.Done()
				if _, err := s.Transition(ctx, o.ID, to, base.Add(time.Second)); err == nil {
					wins.Add(1)
				}
			}(targets[i%2])
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_UnknownTransition(t *testing.T) {
	_, err := NewMemoryStore().Transition(context.Background(), 7, StatusCancelled, time.Now())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
