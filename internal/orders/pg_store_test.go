package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	"github.com/ariefcatur/go-stock-holds/internal/postgres/pgtest"
)

func TestPgStore(t *testing.T) {
	pool := pgtest.NewPool(t)
	runStoreSuite(t, func(t *testing.T) Store {
		pgtest.Reset(t, pool)
		return &PgStore{DB: pool}
	})
}

func TestPgStore_Settle(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	setup := func(t *testing.T, reserved int) (*PgStore, *inventory.PgLedger) {
		pgtest.Reset(t, pool)
		ledger := &inventory.PgLedger{DB: pool}
		_, err := ledger.CreateProduct(ctx, inventory.Product{SKU: "A", TotalQuantity: 10, Price: decimal.NewFromInt(2)})
		require.NoError(t, err)
		_, err = ledger.Reserve(ctx, "A", reserved)
		require.NoError(t, err)
		return &PgStore{DB: pool, Ledger: ledger}, ledger
	}

	t.Run("cancel releases in the same transaction", func(t *testing.T) {
		s, ledger := setup(t, 3)
		o, err := s.Create(ctx, NewPending("alice", []Item{item("A", 3)}, base, time.Minute))
		require.NoError(t, err)

		got, err := s.Settle(ctx, o.ID, StatusCancelled, base)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.Len(t, got.Items, 1)

		p, err := ledger.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 0, p.ReservedQuantity)

		_, err = s.Settle(ctx, o.ID, StatusCancelled, base)
		assert.ErrorIs(t, err, ErrNotPending)
	})

	t.Run("confirm commits stock", func(t *testing.T) {
		s, ledger := setup(t, 4)
		o, err := s.Create(ctx, NewPending("alice", []Item{item("A", 4)}, base, time.Minute))
		require.NoError(t, err)

		_, err = s.Settle(ctx, o.ID, StatusCompleted, base)
		require.NoError(t, err)

		p, err := ledger.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 0, p.ReservedQuantity)
		assert.Equal(t, 6, p.TotalQuantity)
		assert.Equal(t, 4, p.SoldQuantity)
	})

	t.Run("failed ledger effect leaves the order pending", func(t *testing.T) {
		s, ledger := setup(t, 2)
		o, err := s.Create(ctx, NewPending("alice", []Item{item("A", 5)}, base, time.Minute))
		require.NoError(t, err)

		_, err = s.Settle(ctx, o.ID, StatusCompleted, base)
		assert.ErrorIs(t, err, inventory.ErrInvariantViolation)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status, "status write rolled back with the ledger")
		p, err := ledger.Get(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 2, p.ReservedQuantity)

		ids, err := s.ListExpired(ctx, base.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{o.ID}, ids, "the sweeper can still reclaim it")
	})

	t.Run("needs a ledger", func(t *testing.T) {
		pgtest.Reset(t, pool)
		_, err := (&PgStore{DB: pool}).Settle(ctx, 1, StatusCancelled, base)
		assert.ErrorIs(t, err, errNoTxLedger)
	})
}
