package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
)

func setupCache(t *testing.T) (*CartCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartCache(client, time.Minute), mr
}

func TestCartCache_Miss(t *testing.T) {
	c, _ := setupCache(t)

	_, err := c.Get(context.Background(), "u1")
	require.ErrorIs(t, err, cart.ErrCacheMiss)
}

func TestCartCache_SetGet(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	in := &cart.Cart{
		UserID:    "u1",
		Lines:     []cart.Line{{ProductID: "A", Quantity: 2}},
		Version:   7,
		UpdatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Set(ctx, "u1", in))
	assert.True(t, mr.Exists("cart:u1"))

	ttl := mr.TTL("cart:u1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.Less(t, ttl, time.Minute+defaultJitter)

	out, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, in.Lines, out.Lines)
	assert.Equal(t, in.Version, out.Version)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
}

func TestCartCache_Expires(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u1", cart.Empty("u1")))
	mr.FastForward(time.Minute + defaultJitter)

	_, err := c.Get(ctx, "u1")
	require.ErrorIs(t, err, cart.ErrCacheMiss)
}

func TestCartCache_SetKeepsNewerVersion(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	newer := &cart.Cart{UserID: "u1", Lines: []cart.Line{{ProductID: "A", Quantity: 3}}, Version: 7}
	older := &cart.Cart{UserID: "u1", Lines: []cart.Line{{ProductID: "A", Quantity: 1}}, Version: 6}

	require.NoError(t, c.Set(ctx, "u1", newer))
	// A read that started before the edit finishes last.
	require.NoError(t, c.Set(ctx, "u1", older))

	got, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 7, got.Version)
	assert.Equal(t, 3, got.Quantity("A"))

	cleared := &cart.Cart{UserID: "u1", Lines: []cart.Line{}, Version: 8}
	require.NoError(t, c.Set(ctx, "u1", cleared))
	got, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 8, got.Version)
	assert.True(t, got.IsEmpty())
}

func TestCartCache_Delete(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u1", cart.Empty("u1")))
	require.NoError(t, c.Delete(ctx, "u1"))
	assert.False(t, mr.Exists("cart:u1"))

	require.NoError(t, c.Delete(ctx, "never-set"))
}

func TestCartCache_CorruptEntry(t *testing.T) {
	c, mr := setupCache(t)

	mr.HSet("cart:u1", "version", "1", "data", "{not json")
	_, err := c.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrCacheMiss)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = NewClient(context.Background(), "://bad")
	require.Error(t, err)
}
