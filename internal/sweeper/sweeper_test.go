package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-holds/internal/checkout"
	"github.com/ariefcatur/go-stock-holds/internal/inventory"
	"github.com/ariefcatur/go-stock-holds/internal/orders"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type world struct {
	clock  *clock
	ledger *inventory.MemoryLedger
	store  *orders.MemoryStore
	svc    *orders.Service
	co     *checkout.Orchestrator
}

func newWorld(t *testing.T, stock map[string]int) *world {
	t.Helper()
	w := &world{
		clock:  &clock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		ledger: inventory.NewMemoryLedger(),
		store:  orders.NewMemoryStore(),
	}
	for sku, qty := range stock {
		_, err := w.ledger.CreateProduct(context.Background(), inventory.Product{SKU: sku, TotalQuantity: qty, Price: decimal.NewFromInt(3)})
		require.NoError(t, err)
	}
	w.svc = &orders.Service{Store: w.store, Ledger: w.ledger, Clock: w.clock.Now}
	w.co = &checkout.Orchestrator{Ledger: w.ledger, Orders: w.store, Clock: w.clock.Now}
	return w
}

func (w *world) sweeper() *Sweeper {
	return &Sweeper{Finder: w.store, Expirer: w.svc, BatchSize: 50, Workers: 4, Clock: w.clock.Now}
}

func (w *world) reserved(t *testing.T, sku string) int {
	t.Helper()
	p, err := w.ledger.Get(context.Background(), sku)
	require.NoError(t, err)
	return p.ReservedQuantity
}

func TestSweepOnce_ExpiresLapsedHold(t *testing.T) {
	w := newWorld(t, map[string]int{"X": 10})
	ctx := context.Background()

	o, err := w.co.Checkout(ctx, "alice", []checkout.Line{{SKU: "X", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, 3, w.reserved(t, "X"))

	res, err := w.sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res, "nothing is due yet")

	w.clock.Advance(checkout.DefaultHoldTTL)
	res, err = w.sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := w.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusExpired, got.Status)
	assert.Equal(t, 0, w.reserved(t, "X"))

	_, err = w.svc.Confirm(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrReservationExpired)

	res, err = w.sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found)
}

func TestSweepOnce_LeavesConfirmedOrdersAlone(t *testing.T) {
	w := newWorld(t, map[string]int{"X": 10})
	ctx := context.Background()

	kept, err := w.co.Checkout(ctx, "alice", []checkout.Line{{SKU: "X", Quantity: 2}})
	require.NoError(t, err)
	_, err = w.co.Checkout(ctx, "bob", []checkout.Line{{SKU: "X", Quantity: 5}})
	require.NoError(t, err)
	_, err = w.svc.Confirm(ctx, kept.ID)
	require.NoError(t, err)

	w.clock.Advance(time.Hour)
	res, err := w.sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	p, _ := w.ledger.Get(ctx, "X")
	assert.Equal(t, 0, p.ReservedQuantity)
	assert.Equal(t, 8, p.TotalQuantity)
	assert.Equal(t, 2, p.SoldQuantity)
}

func TestSweepOnce_ConcurrentSweepersReleaseOnce(t *testing.T) {
	w := newWorld(t, map[string]int{"A": 100, "B": 100})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := w.co.Checkout(ctx, "u", []checkout.Line{{SKU: "A", Quantity: 2}, {SKU: "B", Quantity: 1}})
		require.NoError(t, err)
	}
	assert.Equal(t, 40, w.reserved(t, "A"))

	// extra outstanding reservation that no order owns; a double release would eat into it
	_, err := w.ledger.Reserve(ctx, "A", 10)
	require.NoError(t, err)

	w.clock.Advance(time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.sweeper().SweepOnce(ctx)
			assert.NoError(t, err)
			assert.Zero(t, res.Failed)
			mu.Lock()
			total += res.Expired
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, total)
	assert.Equal(t, 10, w.reserved(t, "A"))
	assert.Equal(t, 0, w.reserved(t, "B"))
}

type stubFinder []int64

func (f stubFinder) ListExpired(context.Context, time.Time, int) ([]int64, error) { return f, nil }

type stubExpirer struct {
	mu   sync.Mutex
	seen []int64
	errs map[int64]error
}

func (e *stubExpirer) Expire(_ context.Context, id int64) (orders.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, id)
	return orders.Order{ID: id}, e.errs[id]
}

func TestSweepOnce_IsolatesFailures(t *testing.T) {
	ex := &stubExpirer{errs: map[int64]error{
		2: errors.New("ledger timeout"),
		3: orders.ErrAlreadyFinalized,
	}}
	s := &Sweeper{Finder: stubFinder{1, 2, 3, 4}, Expirer: ex, Workers: 2}

	res, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 4, Expired: 2, Skipped: 1, Failed: 1}, res)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ex.seen)
}

type brokenFinder struct{}

func (brokenFinder) ListExpired(context.Context, time.Time, int) ([]int64, error) {
	return nil, errors.New("scan failed")
}

func TestSweepOnce_ScanError(t *testing.T) {
	s := &Sweeper{Finder: brokenFinder{}, Expirer: &stubExpirer{}}
	_, err := s.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := newWorld(t, map[string]int{"X": 5})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := w.co.Checkout(ctx, "alice", []checkout.Line{{SKU: "X", Quantity: 5}})
	require.NoError(t, err)
	w.clock.Advance(time.Hour)

	s := w.sweeper()
	s.Interval = 5 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return w.reserved(t, "X") == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
