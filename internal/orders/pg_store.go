package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, user_ref, status, total_amount, order_date, expires_at, updated_at`

// TxLedger applies stock effects inside a transaction owned by the store.
type TxLedger interface {
	CommitTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error
}

// PgStore keeps orders in Postgres. With Ledger set on the same database it
// also settles transitions together with their stock effects.
type PgStore struct {
	DB     *pgxpool.Pool
	Ledger TxLedger
}

var errNoTxLedger = errors.New("pg store: settle needs a transactional ledger")

type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserRef, &status, &o.TotalAmount, &o.OrderDate, &o.ExpiresAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	o.Status = Status(status)
	return o, err
}

func (s *PgStore) Create(ctx context.Context, o Order) (Order, error) {
	if len(o.Items) == 0 {
		return Order{}, ErrInvalidOrder
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, `
		INSERT INTO orders (user_ref, status, total_amount, order_date, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		o.UserRef, string(o.Status), o.TotalAmount, o.OrderDate, o.ExpiresAt, o.UpdatedAt,
	).Scan(&o.ID); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, sku, quantity, price)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, i, it.SKU, it.Quantity, it.Price,
		); err != nil {
			return Order{}, fmt.Errorf("insert order item %s: %w", it.SKU, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o.clone(), nil
}

func (s *PgStore) Get(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	out := []Order{o}
	if err := s.attachItems(ctx, s.DB, out); err != nil {
		return Order{}, err
	}
	return out[0], nil
}

func (s *PgStore) ListByUser(ctx context.Context, userRef string) ([]Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_ref = $1 ORDER BY order_date DESC, id DESC`, userRef)
}

func (s *PgStore) ListAll(ctx context.Context) ([]Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY order_date DESC, id DESC`)
}

func (s *PgStore) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, s.DB, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachItems loads the lines of every order in one query.
func (s *PgStore) attachItems(ctx context.Context, q rowsQuerier, batch []Order) error {
	if len(batch) == 0 {
		return nil
	}
	ids := make([]int64, len(batch))
	idx := make(map[int64]int, len(batch))
	for i, o := range batch {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, sku, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID int64
			it      Item
		)
		if err := rows.Scan(&orderID, &it.SKU, &it.Quantity, &it.Price); err != nil {
			return err
		}
		i := idx[orderID]
		batch[i].Items = append(batch[i].Items, it)
	}
	return rows.Err()
}

func (s *PgStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Transition is one conditional UPDATE; concurrent callers racing on the same
// order resolve on the row lock and exactly one of them sees a returned row.
func (s *PgStore) Transition(ctx context.Context, id int64, to Status, now time.Time) (Order, error) {
	return s.transition(ctx, s.DB, id, to, now)
}

// Settle runs the conditional UPDATE, the item load and the ledger effect of
// every line in one transaction. On any error nothing has changed and the
// order is still visible to the sweeper.
func (s *PgStore) Settle(ctx context.Context, id int64, to Status, now time.Time) (Order, error) {
	if s.Ledger == nil {
		return Order{}, errNoTxLedger
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := s.transition(ctx, tx, id, to, now)
	if err != nil {
		return Order{}, err
	}
	effect := s.Ledger.ReleaseTx
	if to == StatusCompleted {
		effect = s.Ledger.CommitTx
	}
	for _, it := range o.Items {
		if err := effect(ctx, tx, it.SKU, it.Quantity); err != nil {
			return Order{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

type txQuerier interface {
	rowsQuerier
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PgStore) transition(ctx context.Context, q txQuerier, id int64, to Status, now time.Time) (Order, error) {
	if !CanTransition(StatusPending, to) {
		return Order{}, ErrNotPending
	}
	deadline := `expires_at > $3`
	if to == StatusExpired {
		deadline = `expires_at <= $3`
	}
	o, err := scanOrder(q.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'PENDING' AND `+deadline+`
		RETURNING `+orderColumns, id, string(to), now.UTC()))
	if errors.Is(err, ErrOrderNotFound) {
		return Order{}, ErrNotPending
	}
	if err != nil {
		return Order{}, err
	}
	out := []Order{o}
	if err := s.attachItems(ctx, q, out); err != nil {
		return Order{}, err
	}
	return out[0], nil
}
