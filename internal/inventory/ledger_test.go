package inventory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLedgerSuite exercises the ledger contract against any Store.
func runLedgerSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	seed := func(t *testing.T, s Store, sku string, total int) {
		t.Helper()
		_, err := s.CreateProduct(ctx, Product{SKU: sku, TotalQuantity: total, Price: decimal.RequireFromString("2.50")})
		require.NoError(t, err)
	}

	t.Run("reserve and release", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "APPLE", 10)

		p, err := s.Reserve(ctx, "APPLE", 4)
		require.NoError(t, err)
		assert.Equal(t, 4, p.ReservedQuantity)
		assert.Equal(t, 6, p.Available())
		assert.True(t, decimal.RequireFromString("2.50").Equal(p.Price))

		require.NoError(t, s.Release(ctx, "APPLE", 4))
		got, err := s.Get(ctx, "APPLE")
		require.NoError(t, err)
		assert.Equal(t, 0, got.ReservedQuantity)
		assert.Equal(t, 10, got.TotalQuantity)
	})

	t.Run("reserve beyond available fails without partial hold", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "PEAR", 3)

		_, err := s.Reserve(ctx, "PEAR", 4)
		require.ErrorIs(t, err, ErrInsufficientStock)
		var ise *InsufficientStockError
		require.True(t, errors.As(err, &ise))
		assert.Equal(t, "PEAR", ise.SKU)
		assert.Equal(t, 3, ise.Available)

		got, _ := s.Get(ctx, "PEAR")
		assert.Equal(t, 0, got.ReservedQuantity)
	})

	t.Run("unknown sku and bad quantity", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Reserve(ctx, "NOPE", 1)
		assert.ErrorIs(t, err, ErrProductNotFound)
		assert.ErrorIs(t, s.Release(ctx, "NOPE", 1), ErrProductNotFound)
		assert.ErrorIs(t, s.Commit(ctx, "NOPE", 1), ErrProductNotFound)

		seed(t, s, "KIWI", 1)
		_, err = s.Reserve(ctx, "KIWI", 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("release clamps at zero", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "LIME", 5)
		_, err := s.Reserve(ctx, "LIME", 2)
		require.NoError(t, err)

		require.NoError(t, s.Release(ctx, "LIME", 7))
		got, _ := s.Get(ctx, "LIME")
		assert.Equal(t, 0, got.ReservedQuantity)
		assert.Equal(t, 5, got.TotalQuantity)
	})

	t.Run("commit sells reserved units", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "X", 10)

		_, err := s.Reserve(ctx, "X", 10)
		require.NoError(t, err)
		got, _ := s.Get(ctx, "X")
		assert.Equal(t, 0, got.Available())

		_, err = s.Reserve(ctx, "X", 1)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		require.NoError(t, s.Commit(ctx, "X", 10))
		got, _ = s.Get(ctx, "X")
		assert.Equal(t, 0, got.TotalQuantity)
		assert.Equal(t, 0, got.ReservedQuantity)
		assert.Equal(t, 10, got.SoldQuantity)
	})

	t.Run("commit beyond reserved is an invariant violation", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "PLUM", 10)
		_, err := s.Reserve(ctx, "PLUM", 2)
		require.NoError(t, err)

		err = s.Commit(ctx, "PLUM", 3)
		require.ErrorIs(t, err, ErrInvariantViolation)

		got, _ := s.Get(ctx, "PLUM")
		assert.Equal(t, 2, got.ReservedQuantity, "failed commit must not touch counters")
		assert.Equal(t, 10, got.TotalQuantity)
	})

	t.Run("no overselling under concurrency", func(t *testing.T) {
		s := newStore(t)
		const stock, callers = 25, 120
		seed(t, s, "HOT", stock)

		var ok, short atomic.Int32
		var maxSeen atomic.Int32
		var wg sync.WaitGroup
		stop := make(chan struct{})

		// observer: reserved must never exceed total at any instant
		observed := make(chan struct{})
		go func() {
			defer close(observed)
			for {
				select {
				case <-stop:
					return
				default:
				}
				p, err := s.Get(ctx, "HOT")
				if err == nil && int32(p.ReservedQuantity) > maxSeen.Load() {
					maxSeen.Store(int32(p.ReservedQuantity))
				}
			}
		}()

		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Reserve(ctx, "HOT", 1)
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, ErrInsufficientStock):
					short.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		close(stop)
		<-observed

		assert.Equal(t, int32(stock), ok.Load())
		assert.Equal(t, int32(callers-stock), short.Load())
		assert.LessOrEqual(t, maxSeen.Load(), int32(stock))

		got, _ := s.Get(ctx, "HOT")
		assert.Equal(t, stock, got.ReservedQuantity)
		assert.Equal(t, 0, got.Available())
	})

	t.Run("conservation over random operations", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "MIX", 40)
		rng := rand.New(rand.NewSource(7))
		held := 0

		for i := 0; i < 300; i++ {
			qty := rng.Intn(5) + 1
			switch rng.Intn(3) {
			case 0:
				if _, err := s.Reserve(ctx, "MIX", qty); err == nil {
					held += qty
				}
			case 1:
				if qty > held {
					qty = held
				}
				if qty > 0 {
					require.NoError(t, s.Release(ctx, "MIX", qty))
					held -= qty
				}
			case 2:
				if qty <= held {
					require.NoError(t, s.Commit(ctx, "MIX", qty))
					held -= qty
				}
			}
			p, err := s.Get(ctx, "MIX")
			require.NoError(t, err)
			require.GreaterOrEqual(t, p.ReservedQuantity, 0)
			require.LessOrEqual(t, p.ReservedQuantity, p.TotalQuantity)
			require.GreaterOrEqual(t, p.Available(), 0)
			require.Equal(t, held, p.ReservedQuantity)
			require.Equal(t, 40, p.TotalQuantity+p.SoldQuantity)
		}
	})

	t.Run("reserve all is all or nothing", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "A", 10)
		seed(t, s, "B", 3)

		br, ok := s.(BatchReserver)
		require.True(t, ok)

		_, err := br.ReserveAll(ctx, []Hold{{SKU: "B", Quantity: 999999}, {SKU: "A", Quantity: 5}})
		var ise *InsufficientStockError
		require.True(t, errors.As(err, &ise))
		assert.Equal(t, "B", ise.SKU)

		a, _ := s.Get(ctx, "A")
		assert.Equal(t, 0, a.ReservedQuantity)

		got, err := br.ReserveAll(ctx, []Hold{{SKU: "B", Quantity: 1}, {SKU: "A", Quantity: 2}, {SKU: "A", Quantity: 3}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "A", got[0].SKU)
		assert.Equal(t, 5, got[0].ReservedQuantity)
	})

	t.Run("catalog keeps invariant", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "BREAD", 10)
		_, err := s.CreateProduct(ctx, Product{SKU: "bread", TotalQuantity: 1})
		assert.ErrorIs(t, err, ErrProductExists)

		_, err = s.Reserve(ctx, "BREAD", 6)
		require.NoError(t, err)

		_, err = s.UpdateProduct(ctx, "BREAD", ProductUpdate{TotalQuantity: 5})
		assert.ErrorIs(t, err, ErrBelowReserved)

		unit := "Loaf"
		price := decimal.RequireFromString("3.10")
		p, err := s.UpdateProduct(ctx, "BREAD", ProductUpdate{TotalQuantity: 6, Unit: &unit, Price: &price})
		require.NoError(t, err)
		assert.Equal(t, 6, p.TotalQuantity)
		assert.Equal(t, 6, p.ReservedQuantity, "catalog edits never touch reservations")
		assert.Equal(t, "Loaf", p.Unit)
		assert.True(t, price.Equal(p.Price))

		assert.ErrorIs(t, s.DeleteProduct(ctx, "BREAD"), ErrHasReservations)
		require.NoError(t, s.Release(ctx, "BREAD", 6))
		require.NoError(t, s.DeleteProduct(ctx, "BREAD"))
		_, err = s.Get(ctx, "BREAD")
		assert.ErrorIs(t, err, ErrProductNotFound)
	})

	t.Run("lenient lookup and listing", func(t *testing.T) {
		s := newStore(t)
		seed(t, s, "Milk-1L", 4)
		seed(t, s, "Eggs", 12)

		p, err := s.Get(ctx, "  milk-1l ")
		require.NoError(t, err)
		assert.Equal(t, "Milk-1L", p.SKU)
		assert.Equal(t, DefaultUnit, p.Unit)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Eggs", all[0].SKU)
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) Store { return NewMemoryLedger() })
}

func TestSortHolds_MergesAndOrders(t *testing.T) {
	got := SortHolds([]Hold{{SKU: "c", Quantity: 1}, {SKU: "a", Quantity: 2}, {SKU: "c", Quantity: 4}})
	assert.Equal(t, []Hold{{SKU: "a", Quantity: 2}, {SKU: "c", Quantity: 5}}, got)
}
