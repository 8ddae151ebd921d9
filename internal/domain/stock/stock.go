// Package stock defines all-or-nothing inventory reservation used by checkout.
package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidQuantity is returned for reservation lines with a non-positive quantity.
var ErrInvalidQuantity = errors.New("reservation quantity must be greater than 0")

// Line is a requested quantity of a single product.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Reservation is a set of lines decremented together under one identifier.
type Reservation struct {
	ID    string
	Lines []Line
}

// Shortage describes one product that could not cover its requested quantity.
type Shortage struct {
	ProductID string
	Requested int
	Available int
	// Missing is set when the product does not exist in the catalog.
	Missing bool
}

// InsufficientStockError lists every product that lacked stock for a reservation.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	ids := e.ProductIDs()
	return fmt.Sprintf("insufficient stock for products: %s", strings.Join(ids, ", "))
}

// ProductIDs returns the failing product identifiers in stable order.
func (e *InsufficientStockError) ProductIDs() []string {
	ids := make([]string, len(e.Shortages))
	for i, s := range e.Shortages {
		ids[i] = s.ProductID
	}
	return ids
}

// Reserver atomically adjusts available stock.
//
// ReserveAll decrements every line or none of them. On shortage it returns
// *InsufficientStockError and has applied nothing; after any other error the
// outcome is unknown. Release restores a reservation that has not been
// committed; releasing an unknown or already released reservation is a no-op.
type Reserver interface {
	ReserveAll(ctx context.Context, r Reservation) error
	Release(ctx context.Context, reservationID string) error
	Restock(ctx context.Context, lines []Line) error
}

// Merge validates lines and folds duplicates of the same product into one
// line. The result is sorted by product ID so that stores lock rows in a
// consistent order.
func Merge(lines []Line) ([]Line, error) {
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "product %s", l.ProductID)
		}
		totals[l.ProductID] += l.Quantity
	}

	merged := make([]Line, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ProductID < merged[j].ProductID
	})
	return merged, nil
}
