package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
)

const (
	reservationExistsSQL = `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`

	// Rows are locked in id order so concurrent reservations cannot deadlock.
	lockStockSQL = `SELECT id, stock FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1`
	incrementStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	insertReservationSQL = `INSERT INTO reservations (id, product_id, qty, status) VALUES ($1, $2, $3, 'RESERVED')`

	lockReservationSQL = `SELECT product_id, qty FROM reservations
		WHERE id = $1 AND status = 'RESERVED'
		ORDER BY product_id
		FOR UPDATE`

	releaseReservationSQL  = `UPDATE reservations SET status = 'RELEASED' WHERE id = $1 AND status = 'RESERVED'`
	finalizeReservationSQL = `UPDATE reservations SET status = 'COMMITTED' WHERE id = $1 AND status = 'RESERVED'`
)

var _ stock.Reserver = (*StockReserver)(nil)

// StockReserver decrements products.stock under row locks and records each
// reservation so it can be released exactly once.
type StockReserver struct {
	pool *pgxpool.Pool
}

// NewStockReserver returns a StockReserver that uses the given pool.
func NewStockReserver(pool *pgxpool.Pool) *StockReserver {
	return &StockReserver{pool: pool}
}

// ReserveAll implements stock.Reserver.
func (r *StockReserver) ReserveAll(ctx context.Context, res stock.Reservation) error {
	lines, err := stock.Merge(res.Lines)
	if err != nil {
		return err
	}
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, reservationExistsSQL, res.ID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check reservation")
		}
		if exists {
			return nil
		}

		available, err := lockStock(ctx, tx, ids)
		if err != nil {
			return err
		}

		var shortages []stock.Shortage
		for _, l := range lines {
			have, ok := available[l.ProductID]
			switch {
			case !ok:
				shortages = append(shortages, stock.Shortage{ProductID: l.ProductID, Requested: l.Quantity, Missing: true})
			case have < l.Quantity:
				shortages = append(shortages, stock.Shortage{ProductID: l.ProductID, Requested: l.Quantity, Available: have})
			}
		}
		if len(shortages) > 0 {
			return &stock.InsufficientStockError{Shortages: shortages}
		}

		batch := &pgx.Batch{}
		for _, l := range lines {
			batch.Queue(decrementStockSQL, l.ProductID, l.Quantity)
			batch.Queue(insertReservationSQL, res.ID, l.ProductID, l.Quantity)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "apply reservation")
		}
		return nil
	})
}

func lockStock(ctx context.Context, tx pgx.Tx, ids []string) (map[string]int, error) {
	rows, err := tx.Query(ctx, lockStockSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock stock")
	}
	defer rows.Close()

	available := make(map[string]int, len(ids))
	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, errors.Wrap(err, "scan stock")
		}
		available[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "lock stock")
	}
	return available, nil
}

// Release returns reserved quantities to stock. Unknown, released and
// committed reservations are left untouched.
func (r *StockReserver) Release(ctx context.Context, reservationID string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockReservationSQL, reservationID)
		if err != nil {
			return errors.Wrap(err, "lock reservation")
		}
		lines, err := pgx.CollectRows(rows, pgx.RowToStructByPos[stock.Line])
		if err != nil {
			return errors.Wrap(err, "scan reservation")
		}
		if len(lines) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, l := range lines {
			batch.Queue(incrementStockSQL, l.ProductID, l.Quantity)
		}
		batch.Queue(releaseReservationSQL, reservationID)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrap(err, "release reservation")
		}
		return nil
	})
}

// Finalize marks a reservation as consumed by an order.
func (r *StockReserver) Finalize(ctx context.Context, reservationID string) error {
	return finalizeReservation(ctx, r.pool, reservationID)
}

func finalizeReservation(ctx context.Context, q querier, reservationID string) error {
	if _, err := q.Exec(ctx, finalizeReservationSQL, reservationID); err != nil {
		return errors.Wrap(err, "finalize reservation")
	}
	return nil
}

// Restock adds quantities to existing products in one transaction.
func (r *StockReserver) Restock(ctx context.Context, lines []stock.Line) error {
	merged, err := stock.Merge(lines)
	if err != nil {
		return err
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, l := range merged {
			tag, err := tx.Exec(ctx, incrementStockSQL, l.ProductID, l.Quantity)
			if err != nil {
				return errors.Wrapf(err, "restock %s", l.ProductID)
			}
			if tag.RowsAffected() == 0 {
				return errors.Wrapf(product.ErrNotFound, "restock %s", l.ProductID)
			}
		}
		return nil
	})
}
