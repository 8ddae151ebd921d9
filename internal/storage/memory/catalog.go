// Package memory provides in-process stores used when no database is
// configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
)

var (
	_ product.Repository = (*Catalog)(nil)
	_ stock.Reserver     = (*Catalog)(nil)
)

type reservationState int

const (
	reserved reservationState = iota
	released
	finalized
)

type reservation struct {
	lines []stock.Line
	state reservationState
}

// Catalog holds products with their available stock and serves reservations
// against it.
type Catalog struct {
	mu           sync.RWMutex
	products     map[string]*product.Product
	reservations map[string]*reservation
}

// NewCatalog returns a Catalog seeded with products.
func NewCatalog(products ...product.Product) *Catalog {
	c := &Catalog{
		products:     make(map[string]*product.Product, len(products)),
		reservations: make(map[string]*reservation),
	}
	for _, p := range products {
		c.Put(p)
	}
	return c
}

// Put inserts or replaces a product.
func (c *Catalog) Put(p product.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := p
	c.products[p.ID] = &cp
}

// List returns all products ordered by ID.
func (c *Catalog) List(_ context.Context) ([]product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]product.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID returns a product or product.ErrNotFound.
func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByIDs returns the products that exist among ids. Unknown IDs are skipped.
func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ReserveAll decrements stock for every line or for none.
func (c *Catalog) ReserveAll(_ context.Context, r stock.Reservation) error {
	lines, err := stock.Merge(r.Lines)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.reservations[r.ID]; ok {
		return nil
	}

	// First pass validates every line so the second can apply without undo.
	var shortages []stock.Shortage
	for _, l := range lines {
		p, ok := c.products[l.ProductID]
		switch {
		case !ok:
			shortages = append(shortages, stock.Shortage{ProductID: l.ProductID, Requested: l.Quantity, Missing: true})
		case p.Stock < l.Quantity:
			shortages = append(shortages, stock.Shortage{ProductID: l.ProductID, Requested: l.Quantity, Available: p.Stock})
		}
	}
	if len(shortages) > 0 {
		return &stock.InsufficientStockError{Shortages: shortages}
	}

	for _, l := range lines {
		c.products[l.ProductID].Stock -= l.Quantity
	}
	c.reservations[r.ID] = &reservation{lines: lines}
	return nil
}

// Release restores a reservation that was neither released nor finalized.
func (c *Catalog) Release(_ context.Context, reservationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, ok := c.reservations[reservationID]
	if !ok || res.state != reserved {
		return nil
	}
	for _, l := range res.lines {
		if p, ok := c.products[l.ProductID]; ok {
			p.Stock += l.Quantity
		}
	}
	res.state = released
	return nil
}

// Finalize marks a reservation as consumed by a committed order.
func (c *Catalog) Finalize(_ context.Context, reservationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res, ok := c.reservations[reservationID]; ok && res.state == reserved {
		res.state = finalized
	}
	return nil
}

// Restock adds quantities to existing products.
func (c *Catalog) Restock(_ context.Context, lines []stock.Line) error {
	merged, err := stock.Merge(lines)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range merged {
		if _, ok := c.products[l.ProductID]; !ok {
			return errors.Wrapf(product.ErrNotFound, "restock %s", l.ProductID)
		}
	}
	for _, l := range merged {
		c.products[l.ProductID].Stock += l.Quantity
	}
	return nil
}
