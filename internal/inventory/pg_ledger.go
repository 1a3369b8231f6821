package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `sku, total_quantity, reserved_quantity, sold_quantity, price, unit, image_url, created_at, updated_at`

// PgLedger implements Store on Postgres. Every counter change is a single
// conditional UPDATE, so the row lock taken by the UPDATE is the only
// serialization point per SKU.
type PgLedger struct{ DB *pgxpool.Pool }

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.SKU, &p.TotalQuantity, &p.ReservedQuantity, &p.SoldQuantity,
		&p.Price, &p.Unit, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (l *PgLedger) Reserve(ctx context.Context, sku string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrInvalidQuantity
	}
	p, err := scanProduct(l.DB.QueryRow(ctx, `
		UPDATE products
		SET reserved_quantity = reserved_quantity + $2, updated_at = now()
		WHERE sku = $1 AND total_quantity - reserved_quantity >= $2
		RETURNING `+productColumns, sku, qty))
	if errors.Is(err, ErrProductNotFound) {
		// no row matched: either the sku is unknown or stock is short
		cur, gerr := l.get(ctx, l.DB, sku)
		if gerr != nil {
			return Product{}, gerr
		}
		return Product{}, &InsufficientStockError{SKU: sku, Requested: qty, Available: cur.Available()}
	}
	if err != nil {
		return Product{}, fmt.Errorf("reserve %s: %w", sku, err)
	}
	return p, nil
}

// ReserveAll locks every row FOR UPDATE in ascending SKU order inside one
// transaction. A shortfall on any SKU rolls the whole batch back.
func (l *PgLedger) ReserveAll(ctx context.Context, holds []Hold) ([]Product, error) {
	sorted := SortHolds(holds)
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]Product, 0, len(sorted))
	for _, h := range sorted {
		if h.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		cur, err := scanProduct(tx.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE sku = $1 FOR UPDATE`, h.SKU))
		if err != nil {
			return nil, err
		}
		if cur.Available() < h.Quantity {
			return nil, &InsufficientStockError{SKU: h.SKU, Requested: h.Quantity, Available: cur.Available()}
		}
		p, err := scanProduct(tx.QueryRow(ctx, `
			UPDATE products
			SET reserved_quantity = reserved_quantity + $2, updated_at = now()
			WHERE sku = $1
			RETURNING `+productColumns, h.SKU, h.Quantity))
		if err != nil {
			return nil, fmt.Errorf("reserve %s: %w", h.SKU, err)
		}
		out = append(out, p)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *PgLedger) Release(ctx context.Context, sku string, qty int) error {
	return l.release(ctx, l.DB, sku, qty)
}

func (l *PgLedger) Commit(ctx context.Context, sku string, qty int) error {
	return l.commit(ctx, l.DB, sku, qty)
}

// ReleaseTx and CommitTx apply the same effects inside tx, so an order's
// status change and its stock movement commit or roll back together.
func (l *PgLedger) ReleaseTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error {
	return l.release(ctx, tx, sku, qty)
}

func (l *PgLedger) CommitTx(ctx context.Context, tx pgx.Tx, sku string, qty int) error {
	return l.commit(ctx, tx, sku, qty)
}

func (l *PgLedger) release(ctx context.Context, q execer, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET reserved_quantity = GREATEST(reserved_quantity - $2, 0), updated_at = now()
		WHERE sku = $1`, sku, qty)
	if err != nil {
		return fmt.Errorf("release %s: %w", sku, err)
	}
	if ct.RowsAffected() != 1 {
		return ErrProductNotFound
	}
	return nil
}

func (l *PgLedger) commit(ctx context.Context, q execer, sku string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	ct, err := q.Exec(ctx, `
		UPDATE products
		SET reserved_quantity = reserved_quantity - $2,
		    total_quantity    = total_quantity - $2,
		    sold_quantity     = sold_quantity + $2,
		    updated_at        = now()
		WHERE sku = $1 AND reserved_quantity >= $2`, sku, qty)
	if err != nil {
		return fmt.Errorf("commit %s: %w", sku, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	cur, err := l.get(ctx, q, sku)
	if err != nil {
		return err
	}
	return &InvariantViolationError{
		SKU: sku, Op: "commit", Reserved: cur.ReservedQuantity, Total: cur.TotalQuantity, Quantity: qty,
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execer interface {
	querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (l *PgLedger) get(ctx context.Context, q querier, sku string) (Product, error) {
	return scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku = $1`, sku))
}

func (l *PgLedger) Get(ctx context.Context, sku string) (Product, error) {
	p, err := l.get(ctx, l.DB, sku)
	if !errors.Is(err, ErrProductNotFound) {
		return p, err
	}
	return scanProduct(l.DB.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE lower(sku) = lower($1)`, strings.TrimSpace(sku)))
}

func (l *PgLedger) List(ctx context.Context) ([]Product, error) {
	rows, err := l.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *PgLedger) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	if p.SKU == "" || p.TotalQuantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	if p.Unit == "" {
		p.Unit = DefaultUnit
	}
	out, err := scanProduct(l.DB.QueryRow(ctx, `
		INSERT INTO products (sku, total_quantity, price, unit, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+productColumns, p.SKU, p.TotalQuantity, p.Price, p.Unit, p.ImageURL))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return Product{}, ErrProductExists
	}
	return out, err
}

func (l *PgLedger) UpdateProduct(ctx context.Context, sku string, u ProductUpdate) (Product, error) {
	if u.TotalQuantity < 0 {
		return Product{}, ErrInvalidQuantity
	}
	p, err := scanProduct(l.DB.QueryRow(ctx, `
		UPDATE products
		SET total_quantity = $2,
		    price          = COALESCE($3, price),
		    unit           = COALESCE(NULLIF($4, ''), unit),
		    image_url      = COALESCE(NULLIF($5, ''), image_url),
		    updated_at     = now()
		WHERE sku = $1 AND reserved_quantity <= $2
		RETURNING `+productColumns, sku, u.TotalQuantity, u.Price, u.Unit, u.ImageURL))
	if errors.Is(err, ErrProductNotFound) {
		if _, gerr := l.get(ctx, l.DB, sku); gerr != nil {
			return Product{}, gerr
		}
		return Product{}, ErrBelowReserved
	}
	return p, err
}

func (l *PgLedger) DeleteProduct(ctx context.Context, sku string) error {
	ct, err := l.DB.Exec(ctx, `DELETE FROM products WHERE sku = $1 AND reserved_quantity = 0`, sku)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := l.get(ctx, l.DB, sku); err != nil {
		return err
	}
	return ErrHasReservations
}
