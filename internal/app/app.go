// Package app wires the storefront API server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/rediscache"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		b   *backend
		err error
	)
	if cfg.DatabaseURL == "" {
		b, err = newMemoryBackend(lg, cfg)
	} else {
		b, err = newPostgresBackend(ctx, lg, cfg, healthSvc)
	}
	if err != nil {
		return err
	}
	defer b.Close()

	var cache cart.Cache
	if cfg.Redis.URL != "" {
		client, err := rediscache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = client.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		cache = rediscache.NewCartCache(client, cfg.Redis.TTL)
	}

	// Domain services.
	limit, err := cfg.Payment.limit()
	if err != nil {
		return err
	}
	mode, err := payment.ParseStubMode(cfg.Payment.Mode)
	if err != nil {
		return err
	}
	confirmer := payment.NewConfirmer(
		&payment.StubGateway{Mode: mode, Limit: limit, Delay: cfg.Payment.Delay},
		payment.ConfirmerConfig{
			Timeout:         cfg.Payment.Timeout,
			BreakerFailures: cfg.Payment.BreakerFailures,
			BreakerCooldown: cfg.Payment.BreakerCooldown,
		},
	)
	cartSvc := cart.NewService(b.carts, b.products, cache)
	orderSvc := order.NewService(b.ledger)
	pipeline, err := checkout.NewPipeline(
		b.carts, b.products, b.reserver, confirmer, b.ledger, b.committer,
		checkout.Config{
			CommitMaxElapsed: cfg.Checkout.CommitMaxElapsed,
			ReleaseTimeout:   cfg.Checkout.ReleaseTimeout,
		},
		checkout.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
		checkout.WithCommitHook(func(ctx context.Context, o *order.Order) {
			cartSvc.Reload(ctx, o.UserID)
		}),
	)
	if err != nil {
		return errors.Wrap(err, "create checkout pipeline")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		b.products,
		cartSvc,
		pipeline,
		orderSvc,
	)
	securityHandler := handler.NewSecurityHandler(b.apikeys, []byte(cfg.APIKeyPepper))
	limiter := httpmiddleware.NewRateLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})

	// Middleware runs inside the router so that route patterns are known
	// when requests are logged and measured.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("storefront-api", m),
		httpmiddleware.LogRequests(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{
				"Content-Type", "Authorization", "api_key",
				handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID,
			},
			ExposeHeaders: []string{
				handler.HeaderIdempotentReplayed, httpmiddleware.HeaderRequestID, "Location",
				"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
			},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/api", limiter.Middleware()(h.Routes(securityHandler)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           r,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gCtx)
		return nil
	})
	if b.relay != nil {
		g.Go(func() error {
			if err := b.relay.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "outbox relay")
			}
			return nil
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
