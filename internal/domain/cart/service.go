package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/product"
)

// Service applies cart edits on behalf of a user. Reads go through the cache;
// every edit goes to the store and then replaces the cached copy, so a read
// that raced the edit cannot put an older version back.
type Service struct {
	store    Store
	products product.Repository
	cache    Cache
	sfg      singleflight.Group
}

// NewService creates a cart Service. cache may be nil.
func NewService(store Store, products product.Repository, cache Cache) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	return &Service{
		store:    store,
		products: products,
		cache:    cache,
	}
}

// Get returns the user's cart, an empty one when nothing was added yet.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		c, err := s.cache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			zctx.From(ctx).Warn("Cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		c, err = s.store.Get(ctx, userID)
		if err != nil {
			return nil, errors.Wrap(err, "get cart")
		}
		if err := s.cache.Set(ctx, userID, c); err != nil {
			zctx.From(ctx).Warn("Cart cache set failed", zap.String("user_id", userID), zap.Error(err))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cart).Clone(), nil
}

// Add increases the quantity of a product in the cart.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", productID)
	}
	c, err := s.store.AddLine(ctx, userID, productID, quantity, p.Stock)
	if err != nil {
		var serr *ExceedsStockError
		if errors.As(err, &serr) {
			return nil, serr
		}
		return nil, errors.Wrap(err, "add line")
	}
	s.refresh(ctx, c)
	return c, nil
}

// Update sets the quantity of a product. Zero removes the line.
func (s *Service) Update(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity < 0 {
		return nil, &InvalidQuantityError{ProductID: productID, Quantity: quantity}
	}
	return s.set(ctx, userID, productID, quantity)
}

// Remove drops a product from the cart.
func (s *Service) Remove(ctx context.Context, userID, productID string) (*Cart, error) {
	c, err := s.store.RemoveLine(ctx, userID, productID)
	if err != nil {
		return nil, errors.Wrap(err, "remove line")
	}
	s.refresh(ctx, c)
	return c, nil
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.store.Clear(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	s.refresh(ctx, c)
	return c, nil
}

// Reload re-caches the cart from the store, used after checkout empties it.
func (s *Service) Reload(ctx context.Context, userID string) {
	c, err := s.store.Get(ctx, userID)
	if err != nil {
		zctx.From(ctx).Warn("Cart reload failed", zap.String("user_id", userID), zap.Error(err))
		s.invalidate(ctx, userID)
		return
	}
	s.refresh(ctx, c)
}

func (s *Service) set(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity > 0 {
		p, err := s.products.GetByID(ctx, productID)
		if err != nil {
			return nil, errors.Wrapf(err, "get product %s", productID)
		}
		if quantity > p.Stock {
			return nil, &ExceedsStockError{ProductID: productID, Requested: quantity, Available: p.Stock}
		}
	}

	c, err := s.store.SetLine(ctx, userID, productID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "set line")
	}
	s.refresh(ctx, c)
	return c, nil
}

// refresh caches the cart an edit produced. When that fails the entry is
// dropped instead.
func (s *Service) refresh(ctx context.Context, c *Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, c.UserID, c); err != nil {
		zctx.From(ctx).Warn("Cart cache refresh failed", zap.String("user_id", c.UserID), zap.Error(err))
		s.invalidate(ctx, c.UserID)
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*Cart, error) { return nil, ErrCacheMiss }
func (noopCache) Set(context.Context, string, *Cart) error   { return nil }
func (noopCache) Delete(context.Context, string) error       { return nil }
