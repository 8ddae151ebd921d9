package payment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGateway struct {
	calls   atomic.Int32
	outcome Outcome
	err     error
}

func (g *countingGateway) Charge(_ context.Context, _ Charge) (Outcome, error) {
	g.calls.Add(1)
	return g.outcome, g.err
}

func charge(m Method, amount string) Charge {
	return Charge{Reference: "ref", Method: m, Amount: decimal.RequireFromString(amount)}
}

func TestConfirm_CODDeferredWithoutGateway(t *testing.T) {
	gw := &countingGateway{outcome: Accepted}
	c := NewConfirmer(gw, ConfirmerConfig{})

	outcome, err := c.Confirm(context.Background(), charge(MethodCOD, "1300"))
	require.NoError(t, err)
	assert.Equal(t, Deferred, outcome)
	assert.Zero(t, gw.calls.Load())
}

func TestConfirm_CardAndUPIUseGateway(t *testing.T) {
	for _, m := range []Method{MethodCard, MethodUPI} {
		gw := &countingGateway{outcome: Accepted}
		c := NewConfirmer(gw, ConfirmerConfig{})

		outcome, err := c.Confirm(context.Background(), charge(m, "10"))
		require.NoError(t, err)
		assert.Equal(t, Accepted, outcome, m)
		assert.EqualValues(t, 1, gw.calls.Load())
	}
}

func TestConfirm_Rejected(t *testing.T) {
	c := NewConfirmer(&StubGateway{Mode: StubRejectAll}, ConfirmerConfig{})

	outcome, err := c.Confirm(context.Background(), charge(MethodCard, "10"))
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
}

func TestConfirm_Timeout(t *testing.T) {
	gw := &StubGateway{Mode: StubAcceptAll, Delay: time.Second}
	c := NewConfirmer(gw, ConfirmerConfig{Timeout: 20 * time.Millisecond})

	_, err := c.Confirm(context.Background(), charge(MethodUPI, "10"))
	require.ErrorIs(t, err, ErrTimeout)
}

func TestConfirm_CallerCancelled(t *testing.T) {
	gw := &StubGateway{Mode: StubAcceptAll, Delay: time.Second}
	c := NewConfirmer(gw, ConfirmerConfig{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Confirm(ctx, charge(MethodCard, "10"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfirm_BreakerOpens(t *testing.T) {
	gw := &countingGateway{err: errors.New("connection reset")}
	c := NewConfirmer(gw, ConfirmerConfig{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for range 2 {
		_, err := c.Confirm(context.Background(), charge(MethodCard, "10"))
		require.ErrorIs(t, err, ErrUnavailable)
	}

	_, err := c.Confirm(context.Background(), charge(MethodCard, "10"))
	require.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 2, gw.calls.Load(), "open breaker must not reach the gateway")
}

func TestStubGateway_Limit(t *testing.T) {
	gw := &StubGateway{Mode: StubLimit, Limit: decimal.NewFromInt(100)}

	outcome, err := gw.Charge(context.Background(), charge(MethodCard, "100"))
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)

	outcome, err = gw.Charge(context.Background(), charge(MethodCard, "100.01"))
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("upi")
	require.NoError(t, err)
	assert.Equal(t, MethodUPI, m)

	_, err = ParseMethod("bitcoin")
	var ume *UnknownMethodError
	require.ErrorAs(t, err, &ume)
	assert.Equal(t, "bitcoin", ume.Method)
}
