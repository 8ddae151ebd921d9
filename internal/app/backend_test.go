package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := validConfig()
	cfg.APIKeyPepper = "pepper"
	cfg.Memory = MemoryConfig{
		APIKeys:      []string{"alice-key:alice"},
		OperatorKeys: []string{"ops-key:ops"},
	}

	b, err := newMemoryBackend(zap.NewNop(), &cfg)
	require.NoError(t, err)
	defer b.Close()
	assert.Nil(t, b.relay)

	products, err := b.products.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, products)

	info, err := b.apikeys.FindByHash(ctx, auth.HashKey([]byte("pepper"), "alice-key"))
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
	assert.Empty(t, info.Scopes)

	info, err = b.apikeys.FindByHash(ctx, auth.HashKey([]byte("pepper"), "ops-key"))
	require.NoError(t, err)
	assert.Equal(t, []string{auth.ScopeOperator}, info.Scopes)

	// The stores are wired for a full checkout.
	carts := cart.NewService(b.carts, b.products, nil)
	_, err = carts.Add(ctx, "alice", products[0].ID, 1)
	require.NoError(t, err)

	pipeline, err := checkout.NewPipeline(
		b.carts, b.products, b.reserver,
		payment.NewConfirmer(&payment.StubGateway{Mode: payment.StubAcceptAll}, payment.ConfirmerConfig{}),
		b.ledger, b.committer, checkout.Config{},
	)
	require.NoError(t, err)

	res, err := pipeline.Checkout(ctx, checkout.Request{
		UserID:        "alice",
		PaymentMethod: "cod",
		ShippingAddress: order.ShippingAddress{
			Name:    "Alice",
			Phone:   "9876543210",
			Address: "1 Main St",
			City:    "Pune",
			State:   "MH",
			Pincode: "411001",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Order.UserID)
	assert.Len(t, res.Order.Items, 1)
}

func TestMemoryBackend_MissingCatalog(t *testing.T) {
	cfg := validConfig()
	cfg.CatalogFile = "/nonexistent/catalog.json"
	_, err := newMemoryBackend(zap.NewNop(), &cfg)
	require.Error(t, err)
}
