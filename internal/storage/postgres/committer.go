package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/outbox"
)

const (
	lockCartVersionSQL = `SELECT version FROM carts WHERE user_id = $1 FOR UPDATE`
	emptyCartSQL       = `UPDATE carts SET lines = '[]', version = version + 1, updated_at = now() WHERE user_id = $1`
)

// CheckoutCommitter commits a checkout in a single transaction: the cart
// row is locked and its version checked, then the order, its outbox event,
// the reservation commit and the cart clear are written together.
type CheckoutCommitter struct {
	pool *pgxpool.Pool
}

// NewCheckoutCommitter returns a CheckoutCommitter that uses the given pool.
func NewCheckoutCommitter(pool *pgxpool.Pool) *CheckoutCommitter {
	return &CheckoutCommitter{pool: pool}
}

// Commit writes o if the user's cart still has o.CartVersion.
func (c *CheckoutCommitter) Commit(ctx context.Context, o *order.Order) error {
	return inTx(ctx, c.pool, func(tx pgx.Tx) error {
		var version int64
		if err := tx.QueryRow(ctx, lockCartVersionSQL, o.UserID).Scan(&version); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cart.ErrVersionMismatch
			}
			return errors.Wrap(err, "lock cart")
		}
		if version != o.CartVersion {
			return cart.ErrVersionMismatch
		}

		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := insertOutbox(ctx, tx, outbox.OrderCreated(o)); err != nil {
			return err
		}
		if o.ReservationID != "" {
			if err := finalizeReservation(ctx, tx, o.ReservationID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, emptyCartSQL, o.UserID); err != nil {
			return errors.Wrap(err, "empty cart")
		}
		return nil
	})
}
