package checkout

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
)

// VersionedCarts is the cart store surface needed to commit an order.
type VersionedCarts interface {
	Snapshot(ctx context.Context, userID string) (*cart.Cart, error)
	ClearIfVersion(ctx context.Context, userID string, version int64) error
}

// ReservationFinalizer marks a reservation as consumed so that it can no
// longer be released.
type ReservationFinalizer interface {
	Finalize(ctx context.Context, reservationID string) error
}

// SequentialCommitter commits through independent stores that cannot share a
// transaction. The order is the point of no return: once it is written the
// reservation is finalized and the cart clear is retried, and failures after
// that are logged rather than returned.
type SequentialCommitter struct {
	carts        VersionedCarts
	ledger       order.Ledger
	reservations ReservationFinalizer
	clearTimeout time.Duration
}

// NewSequentialCommitter creates a SequentialCommitter. reservations may be nil.
func NewSequentialCommitter(carts VersionedCarts, ledger order.Ledger, reservations ReservationFinalizer) *SequentialCommitter {
	return &SequentialCommitter{
		carts:        carts,
		ledger:       ledger,
		reservations: reservations,
		clearTimeout: 5 * time.Second,
	}
}

// Commit implements Committer.
func (c *SequentialCommitter) Commit(ctx context.Context, o *order.Order) error {
	snap, err := c.carts.Snapshot(ctx, o.UserID)
	if err != nil {
		return errors.Wrap(err, "snapshot cart")
	}
	if snap.Version != o.CartVersion {
		return cart.ErrVersionMismatch
	}

	if err := c.ledger.Create(ctx, o); err != nil {
		return err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	ctx = context.WithoutCancel(ctx)

	if c.reservations != nil && o.ReservationID != "" {
		if err := c.reservations.Finalize(ctx, o.ReservationID); err != nil {
			lg.Error("Finalize reservation failed",
				zap.String("reservation_id", o.ReservationID),
				zap.Error(err),
			)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = c.clearTimeout
	err = backoff.Retry(func() error {
		err := c.carts.ClearIfVersion(ctx, o.UserID, o.CartVersion)
		if errors.Is(err, cart.ErrVersionMismatch) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		lg.Error("Clear cart after order failed",
			zap.String("user_id", o.UserID),
			zap.Int64("cart_version", o.CartVersion),
			zap.Error(err),
		)
	}
	return nil
}
