package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ConfirmerConfig controls gateway call bounds.
type ConfirmerConfig struct {
	// Timeout bounds a single gateway call.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive gateway failures that
	// opens the circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// Confirmer maps payment methods to gateway outcomes.
type Confirmer struct {
	gateway Gateway
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[Outcome]
}

// NewConfirmer wraps gateway with a timeout and a circuit breaker.
func NewConfirmer(gateway Gateway, cfg ConfirmerConfig) *Confirmer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	})
	return &Confirmer{
		gateway: gateway,
		timeout: cfg.Timeout,
		cb:      cb,
	}
}

// Confirm asks for payment of c.Amount. Cash on delivery is always Deferred
// without contacting the gateway. Card and UPI call the gateway under the
// configured timeout; an expired deadline yields ErrTimeout and gateway
// failures yield ErrUnavailable.
func (c *Confirmer) Confirm(ctx context.Context, ch Charge) (Outcome, error) {
	switch ch.Method {
	case MethodCOD:
		return Deferred, nil
	case MethodCard, MethodUPI:
	default:
		return Rejected, &UnknownMethodError{Method: string(ch.Method)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.cb.Execute(func() (Outcome, error) {
		return c.gateway.Charge(callCtx, ch)
	})
	switch {
	case err == nil:
		return outcome, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		zctx.From(ctx).Warn("Payment circuit open", zap.String("reference", ch.Reference))
		return Rejected, errors.Wrap(ErrUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return Rejected, ErrTimeout
	case ctx.Err() != nil:
		return Rejected, ctx.Err()
	default:
		return Rejected, errors.Wrap(ErrUnavailable, err.Error())
	}
}
