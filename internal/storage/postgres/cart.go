package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/cart"
)

const (
	getCartSQL = `SELECT lines, version, updated_at FROM carts WHERE user_id = $1`

	ensureCartSQL = `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

	lockCartSQL = `SELECT lines, version, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`

	writeCartSQL = `UPDATE carts SET lines = $2, version = version + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING version, updated_at`

	clearCartIfVersionSQL = `UPDATE carts SET lines = '[]', version = version + 1, updated_at = now()
		WHERE user_id = $1 AND version = $2`
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps one row per user with the lines as JSONB and a version
// counter that every write increments.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore returns a CartStore that uses the given pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Get returns the user's cart, an empty one when no row exists.
func (s *CartStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := scanCart(s.pool.QueryRow(ctx, getCartSQL, userID), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return cart.Empty(userID), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %q", userID)
	}
	return c, nil
}

// Snapshot reads the cart from the table, bypassing any cache.
func (s *CartStore) Snapshot(ctx context.Context, userID string) (*cart.Cart, error) {
	return s.Get(ctx, userID)
}

// SetLine sets a product quantity. Zero removes the line.
func (s *CartStore) SetLine(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	return s.mutate(ctx, userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.WithLine(lines, productID, quantity), nil
	})
}

// AddLine adds delta to a product quantity under the row lock, bounded by
// limit.
func (s *CartStore) AddLine(ctx context.Context, userID, productID string, delta, limit int) (*cart.Cart, error) {
	return s.mutate(ctx, userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.AddToLine(lines, productID, delta, limit)
	})
}

// RemoveLine drops a product from the cart.
func (s *CartStore) RemoveLine(ctx context.Context, userID, productID string) (*cart.Cart, error) {
	return s.mutate(ctx, userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.WithLine(lines, productID, 0), nil
	})
}

// Clear empties the cart and keeps its version counter.
func (s *CartStore) Clear(ctx context.Context, userID string) (*cart.Cart, error) {
	return s.mutate(ctx, userID, func([]cart.Line) ([]cart.Line, error) {
		return []cart.Line{}, nil
	})
}

// ClearIfVersion empties the cart only when it still has version.
func (s *CartStore) ClearIfVersion(ctx context.Context, userID string, version int64) error {
	tag, err := s.pool.Exec(ctx, clearCartIfVersionSQL, userID, version)
	if err != nil {
		return errors.Wrapf(err, "clear cart %q", userID)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrVersionMismatch
	}
	return nil
}

func (s *CartStore) mutate(ctx context.Context, userID string, fn func([]cart.Line) ([]cart.Line, error)) (*cart.Cart, error) {
	var out *cart.Cart
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureCartSQL, userID); err != nil {
			return errors.Wrap(err, "ensure cart")
		}
		c, err := scanCart(tx.QueryRow(ctx, lockCartSQL, userID), userID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}

		if c.Lines, err = fn(c.Lines); err != nil {
			return err
		}
		raw, err := json.Marshal(c.Lines)
		if err != nil {
			return errors.Wrap(err, "marshal lines")
		}
		if err := tx.QueryRow(ctx, writeCartSQL, userID, raw).Scan(&c.Version, &c.UpdatedAt); err != nil {
			return errors.Wrap(err, "write cart")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update cart %q", userID)
	}
	return out, nil
}

func scanCart(row pgx.Row, userID string) (*cart.Cart, error) {
	var (
		raw       []byte
		version   int64
		updatedAt time.Time
	)
	if err := row.Scan(&raw, &version, &updatedAt); err != nil {
		return nil, err
	}
	lines := []cart.Line{}
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, errors.Wrap(err, "unmarshal lines")
	}
	return &cart.Cart{UserID: userID, Lines: lines, Version: version, UpdatedAt: updatedAt}, nil
}
