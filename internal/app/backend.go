package app

import (
	"bytes"
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/catalogfeed"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/events/kafka"
	"github.com/xenking/storefront/internal/outbox"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
)

// backend is the set of stores the services run on.
type backend struct {
	products  product.Repository
	carts     cart.Store
	reserver  stock.Reserver
	ledger    order.Ledger
	committer checkout.Committer
	apikeys   auth.Repository
	// relay is nil unless order events are published.
	relay *outbox.Relay

	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// newMemoryBackend serves the catalog file from process memory. Carts,
// orders and reservations do not survive a restart.
func newMemoryBackend(lg *zap.Logger, cfg *Config) (*backend, error) {
	source := cfg.CatalogFile
	var (
		products []product.Product
		err      error
	)
	if source == "" {
		source = "embedded demo catalog"
		products, err = catalogfeed.Decode(bytes.NewReader(db.SeedCatalog))
	} else {
		products, err = catalogfeed.Load(source)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load catalog")
	}
	catalog := memory.NewCatalog(products...)
	carts := memory.NewCartStore()
	ledger := memory.NewLedger()

	keys := memory.NewAPIKeys()
	pepper := []byte(cfg.APIKeyPepper)
	add := func(raw string, scopes []string) {
		key, userID, _ := parseMemoryKey(raw)
		keys.Add(auth.APIKeyInfo{
			ID:      userID,
			KeyHash: auth.HashKey(pepper, key),
			Name:    "memory:" + userID,
			UserID:  userID,
			Scopes:  scopes,
		})
	}
	for _, raw := range cfg.Memory.APIKeys {
		add(raw, nil)
	}
	for _, raw := range cfg.Memory.OperatorKeys {
		add(raw, []string{auth.ScopeOperator})
	}

	lg.Info("Using in-memory stores",
		zap.String("catalog", source),
		zap.Int("products", len(products)),
		zap.Int("api_keys", len(cfg.Memory.APIKeys)+len(cfg.Memory.OperatorKeys)),
	)
	return &backend{
		products:  catalog,
		carts:     carts,
		reserver:  catalog,
		ledger:    ledger,
		committer: checkout.NewSequentialCommitter(carts, ledger, catalog),
		apikeys:   keys,
	}, nil
}

// newPostgresBackend connects, migrates and registers the readiness check.
// When brokers are configured the outbox relay publishes to Kafka.
func newPostgresBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	b := &backend{closers: []func(){pool.Close}}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PostgresCheck(pool))

	b.products = postgres.NewProductRepository(pool)
	b.carts = postgres.NewCartStore(pool)
	b.reserver = postgres.NewStockReserver(pool)
	b.ledger = postgres.NewOrderLedger(pool)
	b.committer = postgres.NewCheckoutCommitter(pool)
	b.apikeys = postgres.NewAPIKeyRepository(pool)

	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers)
		b.closers = append(b.closers, func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		b.relay = outbox.NewRelay(postgres.NewOutboxStore(pool), pub, outbox.RelayConfig{
			Interval:  cfg.Kafka.Interval,
			BatchSize: cfg.Kafka.BatchSize,
		})
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	return b, nil
}
