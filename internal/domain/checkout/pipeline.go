// Package checkout turns a user's cart into an immutable order in one
// all-or-nothing attempt: validate, reserve stock, confirm payment, commit.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
)

// CartReader provides the consistent cart snapshot checkout starts from.
type CartReader interface {
	Snapshot(ctx context.Context, userID string) (*cart.Cart, error)
}

// Confirmer confirms payment for an amount.
type Confirmer interface {
	Confirm(ctx context.Context, c payment.Charge) (payment.Outcome, error)
}

// Committer writes the order and empties the cart it was built from. It
// returns cart.ErrVersionMismatch when the cart no longer has
// o.CartVersion, and order.ErrDuplicateKey when an order with the same
// idempotency key exists.
type Committer interface {
	Commit(ctx context.Context, o *order.Order) error
}

// Request is a checkout call on behalf of an authenticated user.
type Request struct {
	UserID          string
	PaymentMethod   string
	ShippingAddress order.ShippingAddress
	// IdempotencyKey is optional. When empty a key is derived from the cart
	// version.
	IdempotencyKey string
}

// Result is a created or replayed order.
type Result struct {
	Order *order.Order
	// Replayed is set when the order already existed for the idempotency key.
	Replayed bool
}

// Config tunes retries and compensation.
type Config struct {
	// CommitMaxElapsed bounds retries of transient commit failures.
	CommitMaxElapsed time.Duration
	// ReleaseTimeout bounds compensation calls, which run detached from the
	// caller's cancellation.
	ReleaseTimeout time.Duration
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTelemetry instruments the pipeline with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(p *Pipeline) {
		p.tracerProvider = tp
		p.meterProvider = mp
	}
}

// WithCommitHook registers a callback run after an order commits.
func WithCommitHook(fn func(ctx context.Context, o *order.Order)) Option {
	return func(p *Pipeline) {
		p.onCommit = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline orchestrates a checkout attempt.
type Pipeline struct {
	carts     CartReader
	catalog   product.Repository
	stock     stock.Reserver
	payments  Confirmer
	ledger    order.Ledger
	committer Committer
	cfg       Config

	now            func() time.Time
	onCommit       func(ctx context.Context, o *order.Order)
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer   trace.Tracer
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewPipeline wires a Pipeline. ledger serves idempotency lookups; writes go
// through committer.
func NewPipeline(
	carts CartReader,
	catalog product.Repository,
	reserver stock.Reserver,
	payments Confirmer,
	ledger order.Ledger,
	committer Committer,
	cfg Config,
	opts ...Option,
) (*Pipeline, error) {
	if cfg.CommitMaxElapsed <= 0 {
		cfg.CommitMaxElapsed = 10 * time.Second
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 5 * time.Second
	}
	p := &Pipeline{
		carts:          carts,
		catalog:        catalog,
		stock:          reserver,
		payments:       payments,
		ledger:         ledger,
		committer:      committer,
		cfg:            cfg,
		now:            time.Now,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.tracer = p.tracerProvider.Tracer("storefront/checkout")
	meter := p.meterProvider.Meter("storefront/checkout")

	var err error
	if p.attempts, err = meter.Int64Counter("checkout.attempts",
		metric.WithDescription("Checkout attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create attempts counter")
	}
	if p.duration, err = meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout attempt duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	return p, nil
}

// DeriveKey returns the idempotency key used when the client supplies none.
func DeriveKey(cartVersion int64) string {
	return fmt.Sprintf("cart-v%d", cartVersion)
}

// attempt carries per-call state through the stages.
type attempt struct {
	req         Request
	method      payment.Method
	address     order.ShippingAddress
	key         string
	snapshot    *cart.Cart
	reservation *stock.Reservation
	stage       Stage
}

// Checkout runs one attempt. Every failure is an *AbortedError and leaves no
// reservation behind.
func (p *Pipeline) Checkout(ctx context.Context, req Request) (res *Result, err error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	a := &attempt{req: req, stage: StageValidating}
	lg := zctx.From(ctx).With(zap.String("user_id", req.UserID))

	defer func() {
		outcome := outcomeOf(res, err)
		span.SetAttributes(
			attribute.String("checkout.stage", string(a.stage)),
			attribute.String("checkout.outcome", outcome),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		p.attempts.Add(ctx, 1, attrs)
		p.duration.Record(ctx, p.now().Sub(start).Seconds(), attrs)
	}()

	defer func() {
		if err == nil || a.reservation == nil {
			return
		}
		p.release(ctx, a.reservation.ID)
		lg.Info("Checkout aborted, reservation released",
			zap.String("stage", string(a.stage)),
			zap.String("reservation_id", a.reservation.ID),
			zap.Error(err),
		)
	}()

	if res, err = p.validate(ctx, a); err != nil || res != nil {
		return res, p.abort(a, err)
	}

	a.stage = StageReserving
	if err := p.reserve(ctx, a); err != nil {
		return nil, p.abort(a, err)
	}

	a.stage = StageConfirming
	o, err := p.confirm(ctx, a)
	if err != nil {
		return nil, p.abort(a, err)
	}

	a.stage = StageCommitting
	res, err = p.commit(ctx, a, o)
	if err != nil {
		return nil, p.abort(a, err)
	}

	a.stage = StageDone
	if !res.Replayed && p.onCommit != nil {
		p.onCommit(ctx, res.Order)
	}
	lg.Info("Checkout completed",
		zap.String("order_id", res.Order.ID),
		zap.Bool("replayed", res.Replayed),
		zap.String("total", res.Order.Total.StringFixed(2)),
	)
	return res, nil
}

func (p *Pipeline) abort(a *attempt, err error) error {
	if err == nil {
		return nil
	}
	return &AbortedError{Stage: a.stage, Err: err}
}

// validate checks the request, replays a known idempotency key and takes
// the cart snapshot. A non-nil Result means the call is a replay.
func (p *Pipeline) validate(ctx context.Context, a *attempt) (*Result, error) {
	method, err := payment.ParseMethod(a.req.PaymentMethod)
	if err != nil {
		return nil, &ValidationError{Field: "paymentMethod", Message: err.Error()}
	}
	a.method = method

	a.address = a.req.ShippingAddress.Normalize()
	if err := a.address.Validate(); err != nil {
		var addrErr *order.AddressError
		if errors.As(err, &addrErr) {
			return nil, &ValidationError{Field: "shippingAddress." + addrErr.Field, Message: "fails " + addrErr.Rule}
		}
		return nil, err
	}

	if a.req.IdempotencyKey != "" {
		if res, err := p.replay(ctx, a.req.UserID, a.req.IdempotencyKey); err != nil || res != nil {
			return res, err
		}
	}

	snap, err := p.carts.Snapshot(ctx, a.req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot cart")
	}
	a.snapshot = snap

	a.key = a.req.IdempotencyKey
	if a.key == "" {
		a.key = DeriveKey(snap.Version)
		if res, err := p.replay(ctx, a.req.UserID, a.key); err != nil || res != nil {
			return res, err
		}
	}

	if snap.IsEmpty() {
		// A twin request may have committed and emptied the cart since the
		// first lookup. Without a client key, the commit cleared the cart
		// from the previous version.
		key := a.req.IdempotencyKey
		if key == "" && snap.Version > 0 {
			key = DeriveKey(snap.Version - 1)
		}
		if key != "" {
			if res, err := p.replay(ctx, a.req.UserID, key); err != nil || res != nil {
				return res, err
			}
		}
		return nil, ErrEmptyCart
	}
	return nil, nil
}

func (p *Pipeline) replay(ctx context.Context, userID, key string) (*Result, error) {
	existing, err := p.ledger.FindByIdempotencyKey(ctx, userID, key)
	switch {
	case err == nil:
		zctx.From(ctx).Info("Duplicate checkout replayed",
			zap.String("user_id", userID),
			zap.String("idempotency_key", key),
			zap.String("order_id", existing.ID),
		)
		return &Result{Order: existing, Replayed: true}, nil
	case errors.Is(err, order.ErrNotFound):
		return nil, nil
	default:
		return nil, errors.Wrap(err, "lookup idempotency key")
	}
}

func (p *Pipeline) reserve(ctx context.Context, a *attempt) error {
	r := stock.Reservation{
		ID:    uuid.New().String(),
		Lines: a.snapshot.StockLines(),
	}
	// Tracked before the call: a failed ReserveAll may still have applied,
	// and releasing an unknown reservation is a no-op.
	a.reservation = &r
	if err := p.stock.ReserveAll(ctx, r); err != nil {
		var short *stock.InsufficientStockError
		if errors.As(err, &short) {
			a.reservation = nil
			return short
		}
		return errors.Wrap(err, "reserve stock")
	}
	return nil
}

// confirm freezes current catalog prices into order items and asks for
// payment of their total.
func (p *Pipeline) confirm(ctx context.Context, a *attempt) (*order.Order, error) {
	ids := make([]string, len(a.snapshot.Lines))
	for i, l := range a.snapshot.Lines {
		ids[i] = l.ProductID
	}
	fetched, err := p.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := product.Index(fetched)

	items := make([]order.Item, len(a.snapshot.Lines))
	for i, l := range a.snapshot.Lines {
		pr, ok := byID[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		items[i] = order.Item{
			ProductID: pr.ID,
			Name:      pr.Name,
			UnitPrice: pr.Price,
			Quantity:  l.Quantity,
			ImageRef:  pr.Image.Ref(),
		}
	}
	total := order.Total(items)

	outcome, err := p.payments.Confirm(ctx, payment.Charge{
		Reference: a.req.UserID + ":" + a.key,
		Method:    a.method,
		Amount:    total,
	})
	if err != nil {
		if errors.Is(err, payment.ErrTimeout) {
			return nil, ErrPaymentTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(ErrPaymentRejected, err.Error())
	}

	var paymentStatus order.PaymentStatus
	switch outcome {
	case payment.Accepted:
		paymentStatus = order.PaymentCompleted
	case payment.Deferred:
		paymentStatus = order.PaymentPending
	default:
		return nil, ErrPaymentRejected
	}

	now := p.now().UTC()
	return &order.Order{
		ID:              uuid.New().String(),
		UserID:          a.req.UserID,
		Items:           items,
		Total:           total,
		PaymentMethod:   a.method,
		PaymentStatus:   paymentStatus,
		Status:          order.StatusProcessing,
		ShippingAddress: a.address,
		IdempotencyKey:  a.key,
		CartVersion:     a.snapshot.Version,
		ReservationID:   a.reservation.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// commit writes the order, retrying transient failures with the same
// idempotency key. When the write loses to an order already stored under
// the key, that order is returned instead.
func (p *Pipeline) commit(ctx context.Context, a *attempt, o *order.Order) (*Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = p.cfg.CommitMaxElapsed

	err := backoff.Retry(func() error {
		err := p.committer.Commit(ctx, o)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, cart.ErrVersionMismatch), errors.Is(err, order.ErrDuplicateKey):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			zctx.From(ctx).Warn("Order commit failed, retrying",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			return err
		}
	}, backoff.WithContext(b, ctx))

	if err == nil {
		a.reservation = nil
		return &Result{Order: o}, nil
	}

	// The order may exist already: a twin request with the same key won the
	// race, or an ambiguous failure actually committed.
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ReleaseTimeout)
	defer cancel()
	existing, lookupErr := p.ledger.FindByIdempotencyKey(lookupCtx, o.UserID, o.IdempotencyKey)
	switch {
	case lookupErr == nil:
	case errors.Is(err, cart.ErrVersionMismatch) && errors.Is(lookupErr, order.ErrNotFound):
		return nil, ErrCartChanged
	case errors.Is(err, order.ErrDuplicateKey):
		return nil, errors.Wrap(lookupErr, "lookup duplicate order")
	default:
		return nil, errors.Wrap(err, "commit order")
	}
	if existing.ReservationID == a.reservation.ID {
		// Our own earlier attempt committed; the reservation is consumed.
		a.reservation = nil
		return &Result{Order: existing}, nil
	}
	// A twin request won; the deferred abort path does not run for replays.
	p.release(ctx, a.reservation.ID)
	a.reservation = nil
	return &Result{Order: existing, Replayed: true}, nil
}

// release compensates a reservation. It runs detached from the caller's
// cancellation so abandoned requests still give stock back.
func (p *Pipeline) release(ctx context.Context, reservationID string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ReleaseTimeout)
	defer cancel()
	if err := p.stock.Release(rctx, reservationID); err != nil {
		zctx.From(ctx).Error("Release reservation failed",
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
	}
}

func outcomeOf(res *Result, err error) string {
	var short *stock.InsufficientStockError
	switch {
	case err == nil && res != nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "completed"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &short):
		return "insufficient_stock"
	case errors.Is(err, ErrPaymentRejected):
		return "payment_rejected"
	case errors.Is(err, ErrPaymentTimeout):
		return "payment_timeout"
	case errors.Is(err, ErrCartChanged):
		return "cart_changed"
	default:
		var verr *ValidationError
		if errors.As(err, &verr) {
			return "invalid"
		}
		return "error"
	}
}
