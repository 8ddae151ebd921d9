package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
)

func newCatalog() *Catalog {
	return NewCatalog(
		product.Product{ID: "A", Name: "Waffle", Price: decimal.NewFromInt(500), Stock: 10},
		product.Product{ID: "B", Name: "Brownie", Price: decimal.NewFromInt(300), Stock: 5},
		product.Product{ID: "C", Name: "Tart", Price: decimal.NewFromInt(200), Stock: 1},
	)
}

func stockOf(t *testing.T, c *Catalog, id string) int {
	t.Helper()
	p, err := c.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCatalog_ReserveAll(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	err := c.ReserveAll(ctx, stock.Reservation{ID: "r1", Lines: []stock.Line{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
		{ProductID: "A", Quantity: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, c, "A"))
	assert.Equal(t, 4, stockOf(t, c, "B"))
}

func TestCatalog_ReserveAll_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	err := c.ReserveAll(ctx, stock.Reservation{ID: "r1", Lines: []stock.Line{
		{ProductID: "A", Quantity: 2},
		{ProductID: "C", Quantity: 2},
		{ProductID: "Z", Quantity: 1},
	}})

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, []string{"C", "Z"}, short.ProductIDs())
	assert.True(t, short.Shortages[1].Missing)
	assert.Equal(t, 1, short.Shortages[0].Available)

	assert.Equal(t, 10, stockOf(t, c, "A"), "no line may be decremented")
	assert.Equal(t, 1, stockOf(t, c, "C"))
}

func TestCatalog_ReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	require.NoError(t, c.ReserveAll(ctx, stock.Reservation{ID: "r1", Lines: []stock.Line{{ProductID: "B", Quantity: 3}}}))
	require.NoError(t, c.Release(ctx, "r1"))
	require.NoError(t, c.Release(ctx, "r1"))
	require.NoError(t, c.Release(ctx, "unknown"))
	assert.Equal(t, 5, stockOf(t, c, "B"))
}

func TestCatalog_FinalizedReservationNotReleased(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	require.NoError(t, c.ReserveAll(ctx, stock.Reservation{ID: "r1", Lines: []stock.Line{{ProductID: "B", Quantity: 3}}}))
	require.NoError(t, c.Finalize(ctx, "r1"))
	require.NoError(t, c.Release(ctx, "r1"))
	assert.Equal(t, 2, stockOf(t, c, "B"))
}

func TestCatalog_Restock(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	require.NoError(t, c.Restock(ctx, []stock.Line{{ProductID: "C", Quantity: 4}}))
	assert.Equal(t, 5, stockOf(t, c, "C"))

	err := c.Restock(ctx, []stock.Line{{ProductID: "A", Quantity: 1}, {ProductID: "Z", Quantity: 1}})
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.Equal(t, 10, stockOf(t, c, "A"))
}

func TestCatalog_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.ReserveAll(ctx, stock.Reservation{
				ID:    string(rune('a' + i)),
				Lines: []stock.Line{{ProductID: "C", Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 0, stockOf(t, c, "C"))
}

func TestCartStore_Versions(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Zero(t, c.Version)

	c, err = s.SetLine(ctx, "u1", "A", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.Version)

	c, err = s.SetLine(ctx, "u1", "B", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.Version)
	assert.Equal(t, []cart.Line{{ProductID: "A", Quantity: 2}, {ProductID: "B", Quantity: 1}}, c.Lines)

	require.ErrorIs(t, s.ClearIfVersion(ctx, "u1", 1), cart.ErrVersionMismatch)
	require.NoError(t, s.ClearIfVersion(ctx, "u1", 2))

	c, err = s.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.EqualValues(t, 3, c.Version, "clearing bumps the version")
}

func TestCartStore_AddLine(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := s.AddLine(ctx, "u1", "A", 1, 5)
			if err != nil {
				var serr *cart.ExceedsStockError
				assert.ErrorAs(t, err, &serr)
			}
		})
	}
	wg.Wait()

	c, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Quantity("A"))
	assert.EqualValues(t, 5, c.Version, "rejected adds leave the version alone")
}

func TestLedger_IdempotencyKeyPerUser(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()

	require.NoError(t, l.Create(ctx, &order.Order{ID: "o1", UserID: "u1", IdempotencyKey: "k"}))
	require.ErrorIs(t, l.Create(ctx, &order.Order{ID: "o2", UserID: "u1", IdempotencyKey: "k"}), order.ErrDuplicateKey)
	require.NoError(t, l.Create(ctx, &order.Order{ID: "o3", UserID: "u2", IdempotencyKey: "k"}))

	o, err := l.FindByIdempotencyKey(ctx, "u1", "k")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = l.GetForUser(ctx, "u2", "o1")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestLedger_ListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, l.Create(ctx, &order.Order{ID: "old", UserID: "u1", CreatedAt: base}))
	require.NoError(t, l.Create(ctx, &order.Order{ID: "new", UserID: "u1", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, l.Create(ctx, &order.Order{ID: "other", UserID: "u2", CreatedAt: base}))

	orders, err := l.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "new", orders[0].ID)
	assert.Equal(t, "old", orders[1].ID)
}

func TestLedger_UpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	require.NoError(t, l.Create(ctx, &order.Order{ID: "o1", UserID: "u1", Status: order.StatusProcessing}))

	o, err := l.UpdateStatus(ctx, "o1", order.StatusProcessing, order.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, o.Status)

	_, err = l.UpdateStatus(ctx, "o1", order.StatusProcessing, order.StatusCancelled)
	var terr *order.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "shipped", terr.From)
}
