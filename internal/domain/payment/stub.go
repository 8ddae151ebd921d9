package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// StubMode selects how StubGateway answers.
type StubMode string

const (
	StubAcceptAll StubMode = "accept"
	StubRejectAll StubMode = "reject"
	// StubLimit accepts charges up to the configured limit and rejects the rest.
	StubLimit StubMode = "limit"
)

// StubGateway stands in for a real processor. It answers synchronously
// after an optional delay and honours context cancellation.
type StubGateway struct {
	Mode  StubMode
	Limit decimal.Decimal
	Delay time.Duration
}

// ParseStubMode validates a stub mode name.
func ParseStubMode(s string) (StubMode, error) {
	switch m := StubMode(s); m {
	case StubAcceptAll, StubRejectAll, StubLimit:
		return m, nil
	default:
		return "", errors.Errorf("unknown payment stub mode %q", s)
	}
}

// Charge implements Gateway.
func (g *StubGateway) Charge(ctx context.Context, c Charge) (Outcome, error) {
	if g.Delay > 0 {
		t := time.NewTimer(g.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Rejected, ctx.Err()
		case <-t.C:
		}
	}

	switch g.Mode {
	case StubRejectAll:
		return Rejected, nil
	case StubLimit:
		if c.Amount.GreaterThan(g.Limit) {
			return Rejected, nil
		}
		return Accepted, nil
	default:
		return Accepted, nil
	}
}
