package cart_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

type countingCache struct {
	mu      sync.Mutex
	entries map[string]*cart.Cart
	hits    atomic.Int32
	deletes atomic.Int32
}

func newCountingCache() *countingCache {
	return &countingCache{entries: make(map[string]*cart.Cart)}
}

func (c *countingCache) Get(_ context.Context, userID string) (*cart.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[userID]
	if !ok {
		return nil, cart.ErrCacheMiss
	}
	c.hits.Add(1)
	return v.Clone(), nil
}

func (c *countingCache) Set(_ context.Context, userID string, v *cart.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[userID]; ok && cur.Version >= v.Version {
		return nil
	}
	c.entries[userID] = v.Clone()
	return nil
}

func (c *countingCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes.Add(1)
	delete(c.entries, userID)
	return nil
}

func newCatalog() *memory.Catalog {
	return memory.NewCatalog(
		product.Product{ID: "A", Name: "Waffle", Price: decimal.NewFromInt(500), Stock: 3},
		product.Product{ID: "B", Name: "Brownie", Price: decimal.NewFromInt(300), Stock: 10},
	)
}

func newService(t *testing.T) (*cart.Service, *countingCache) {
	t.Helper()
	cache := newCountingCache()
	return cart.NewService(memory.NewCartStore(), newCatalog(), cache), cache
}

func TestService_AddAccumulates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", "A", 1)
	require.NoError(t, err)
	c, err := svc.Add(ctx, "u1", "A", 2)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Quantity("A"))
	assert.EqualValues(t, 2, c.Version)
}

func TestService_AddRejectsNonPositive(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Add(context.Background(), "u1", "A", 0)
	var qerr *cart.InvalidQuantityError
	require.ErrorAs(t, err, &qerr)
}

func TestService_ExceedsStock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", "A", 2)
	require.NoError(t, err)

	_, err = svc.Add(ctx, "u1", "A", 2)
	var serr *cart.ExceedsStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 4, serr.Requested)
	assert.Equal(t, 3, serr.Available)
}

func TestService_UnknownProduct(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Add(context.Background(), "u1", "nope", 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestService_UpdateZeroRemoves(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", "A", 1)
	require.NoError(t, err)
	c, err := svc.Update(ctx, "u1", "A", 0)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	_, err = svc.Update(ctx, "u1", "A", -1)
	var qerr *cart.InvalidQuantityError
	require.ErrorAs(t, err, &qerr)
}

func TestService_EditsRefreshCache(t *testing.T) {
	ctx := context.Background()
	svc, cache := newService(t)

	_, err := svc.Add(ctx, "u1", "B", 2)
	require.NoError(t, err)

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Quantity("B"))
	assert.EqualValues(t, 1, cache.hits.Load())

	_, err = svc.Remove(ctx, "u1", "B")
	require.NoError(t, err)
	c, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.EqualValues(t, 2, c.Version)
	assert.EqualValues(t, 2, cache.hits.Load())
}

func TestService_ConcurrentAddsAccumulate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_, err := svc.Add(ctx, "u1", "B", 1)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, c.Quantity("B"))
	assert.EqualValues(t, 10, c.Version)
}

func TestService_ConcurrentAddsBoundedByStock(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	var (
		wg       sync.WaitGroup
		added    atomic.Int32
		rejected atomic.Int32
	)
	for range 5 {
		wg.Go(func() {
			_, err := svc.Add(ctx, "u1", "A", 1)
			var serr *cart.ExceedsStockError
			switch {
			case err == nil:
				added.Add(1)
			case errors.As(err, &serr):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.EqualValues(t, 3, added.Load())
	assert.EqualValues(t, 2, rejected.Load())

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Quantity("A"))
}

// racingStore runs an edit after a read has hit the store but before it
// returns.
type racingStore struct {
	cart.Store
	during func()
}

func (s *racingStore) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := s.Store.Get(ctx, userID)
	if fn := s.during; fn != nil {
		s.during = nil
		fn()
	}
	return c, err
}

func TestService_StaleReadDoesNotOverwriteEdit(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: memory.NewCartStore()}
	cache := newCountingCache()
	svc := cart.NewService(store, newCatalog(), cache)

	_, err := svc.Add(ctx, "u1", "B", 1)
	require.NoError(t, err)
	// The cached entry expires.
	require.NoError(t, cache.Delete(ctx, "u1"))

	store.during = func() {
		_, err := svc.Update(ctx, "u1", "B", 4)
		require.NoError(t, err)
	}
	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Quantity("B"), "the read started before the edit")

	c, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, c.Quantity("B"))
	assert.EqualValues(t, 2, c.Version)
}

func TestService_ReloadAfterCheckout(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCartStore()
	cache := newCountingCache()
	svc := cart.NewService(store, newCatalog(), cache)

	c, err := svc.Add(ctx, "u1", "B", 2)
	require.NoError(t, err)
	// Checkout clears the cart directly in the store.
	require.NoError(t, store.ClearIfVersion(ctx, "u1", c.Version))

	svc.Reload(ctx, "u1")
	c, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.EqualValues(t, 2, c.Version)
}

func TestService_Clear(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Add(ctx, "u1", "A", 1)
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", "B", 1)
	require.NoError(t, err)

	c, err := svc.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.EqualValues(t, 3, c.Version)
}
