package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/stock"
)

var (
	// ErrVersionMismatch is returned by conditional writes when the live cart
	// version differs from the expected one.
	ErrVersionMismatch = errors.New("cart version mismatch")
	// ErrCacheMiss is returned by Cache implementations when no entry exists.
	ErrCacheMiss = errors.New("cart cache miss")
)

// Cart is the mutable per-user list of chosen products.
type Cart struct {
	UserID string `json:"user_id"`
	Lines  []Line `json:"lines"`
	// Version increases by one on every mutation and is never reset.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is one product and its quantity inside a cart.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}

// Quantity returns the quantity of productID in the cart, or 0.
func (c *Cart) Quantity(productID string) int {
	if c == nil {
		return 0
	}
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

// StockLines converts cart lines into reservation lines.
func (c *Cart) StockLines() []stock.Line {
	out := make([]stock.Line, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = stock.Line{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}

// Clone returns a deep copy safe to hand out of a store.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Lines = append([]Line(nil), c.Lines...)
	return &cp
}

// WithLine returns the lines with productID set to quantity. A zero quantity
// removes the line; new products are appended to keep insertion order.
func WithLine(lines []Line, productID string, quantity int) []Line {
	out := make([]Line, 0, len(lines)+1)
	found := false
	for _, l := range lines {
		if l.ProductID != productID {
			out = append(out, l)
			continue
		}
		found = true
		if quantity > 0 {
			out = append(out, Line{ProductID: productID, Quantity: quantity})
		}
	}
	if !found && quantity > 0 {
		out = append(out, Line{ProductID: productID, Quantity: quantity})
	}
	return out
}

// AddToLine returns the lines with delta added to productID's quantity. It
// fails with *ExceedsStockError when the result would exceed limit.
func AddToLine(lines []Line, productID string, delta, limit int) ([]Line, error) {
	quantity := delta
	for _, l := range lines {
		if l.ProductID == productID {
			quantity += l.Quantity
			break
		}
	}
	if quantity > limit {
		return nil, &ExceedsStockError{ProductID: productID, Requested: quantity, Available: limit}
	}
	return WithLine(lines, productID, quantity), nil
}

// Empty returns the empty cart for a user who never added anything.
func Empty(userID string) *Cart {
	return &Cart{UserID: userID, Lines: []Line{}}
}

// Store owns carts keyed by user. A missing cart reads as empty.
type Store interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	SetLine(ctx context.Context, userID, productID string, quantity int) (*Cart, error)
	// AddLine applies AddToLine to the stored lines in one atomic step.
	AddLine(ctx context.Context, userID, productID string, delta, limit int) (*Cart, error)
	RemoveLine(ctx context.Context, userID, productID string) (*Cart, error)
	Clear(ctx context.Context, userID string) (*Cart, error)
	// Snapshot reads the cart and its version from the store of record.
	Snapshot(ctx context.Context, userID string) (*Cart, error)
	// ClearIfVersion empties the cart only when its version equals version,
	// otherwise it returns ErrVersionMismatch.
	ClearIfVersion(ctx context.Context, userID string, version int64) error
}

// Cache is a read-through cache for carts. Set never replaces an entry
// holding the same or a newer Version.
type Cache interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, userID string, c *Cart) error
	Delete(ctx context.Context, userID string) error
}

// InvalidQuantityError indicates a negative quantity in a cart edit.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// ExceedsStockError indicates a cart quantity above the product's current stock.
type ExceedsStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *ExceedsStockError) Error() string {
	return fmt.Sprintf("product %s: requested %d, only %d in stock", e.ProductID, e.Requested, e.Available)
}
