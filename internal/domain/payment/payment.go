// Package payment adapts the external payment gateway into a closed set of
// synchronous outcomes.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method is how the customer pays.
type Method string

const (
	MethodCOD  Method = "cod"
	MethodCard Method = "card"
	MethodUPI  Method = "upi"
)

// ParseMethod validates a payment method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCOD, MethodCard, MethodUPI:
		return m, nil
	default:
		return "", &UnknownMethodError{Method: s}
	}
}

// UnknownMethodError is returned for payment methods outside the closed set.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown payment method %q", e.Method)
}

// Outcome is the result of a payment confirmation.
type Outcome int

const (
	// Rejected means the gateway declined; checkout must abort.
	Rejected Outcome = iota
	// Accepted means the payment is captured.
	Accepted
	// Deferred means payment happens outside the system (cash on delivery).
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Deferred:
		return "deferred"
	default:
		return "rejected"
	}
}

var (
	// ErrTimeout is returned when the gateway does not answer in time.
	ErrTimeout = errors.New("payment gateway timeout")
	// ErrUnavailable is returned when the gateway is failing or the circuit
	// breaker is open.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// Charge is a request to capture an amount.
type Charge struct {
	// Reference identifies the checkout attempt, usually the idempotency key.
	Reference string
	Method    Method
	Amount    decimal.Decimal
}

// Gateway is the external payment processor.
type Gateway interface {
	Charge(ctx context.Context, c Charge) (Outcome, error)
}
