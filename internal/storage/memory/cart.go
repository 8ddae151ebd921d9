package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

// CartStore keeps carts in a map guarded by a mutex.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
	now   func() time.Time
}

// NewCartStore returns an empty CartStore.
func NewCartStore() *CartStore {
	return &CartStore{
		carts: make(map[string]*cart.Cart),
		now:   time.Now,
	}
}

func (s *CartStore) load(userID string) *cart.Cart {
	c, ok := s.carts[userID]
	if !ok {
		c = cart.Empty(userID)
		s.carts[userID] = c
	}
	return c
}

func (s *CartStore) mutate(userID string, fn func(lines []cart.Line) ([]cart.Line, error)) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.load(userID)
	lines, err := fn(c.Lines)
	if err != nil {
		return nil, err
	}
	c.Lines = lines
	c.Version++
	c.UpdatedAt = s.now().UTC()
	return c.Clone(), nil
}

// Get returns the user's cart.
func (s *CartStore) Get(_ context.Context, userID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.carts[userID]; ok {
		return c.Clone(), nil
	}
	return cart.Empty(userID), nil
}

// Snapshot is Get; the map is the store of record.
func (s *CartStore) Snapshot(ctx context.Context, userID string) (*cart.Cart, error) {
	return s.Get(ctx, userID)
}

// SetLine sets a product quantity. Zero removes the line.
func (s *CartStore) SetLine(_ context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	return s.mutate(userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.WithLine(lines, productID, quantity), nil
	})
}

// AddLine adds delta to a product quantity, bounded by limit.
func (s *CartStore) AddLine(_ context.Context, userID, productID string, delta, limit int) (*cart.Cart, error) {
	return s.mutate(userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.AddToLine(lines, productID, delta, limit)
	})
}

// RemoveLine drops a product from the cart.
func (s *CartStore) RemoveLine(_ context.Context, userID, productID string) (*cart.Cart, error) {
	return s.mutate(userID, func(lines []cart.Line) ([]cart.Line, error) {
		return cart.WithLine(lines, productID, 0), nil
	})
}

// Clear empties the cart.
func (s *CartStore) Clear(_ context.Context, userID string) (*cart.Cart, error) {
	return s.mutate(userID, func([]cart.Line) ([]cart.Line, error) {
		return []cart.Line{}, nil
	})
}

// ClearIfVersion empties the cart when it still has version.
func (s *CartStore) ClearIfVersion(_ context.Context, userID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.load(userID)
	if c.Version != version {
		return cart.ErrVersionMismatch
	}
	c.Lines = []cart.Line{}
	c.Version++
	c.UpdatedAt = s.now().UTC()
	return nil
}
