package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Service exposes order history and the operator status actions.
type Service struct {
	ledger Ledger
}

// NewService creates an order Service backed by the given ledger.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// History returns the user's orders newest first.
func (s *Service) History(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns one of the user's orders.
func (s *Service) Get(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.ledger.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

// TransitionStatus moves an order forward in its lifecycle. Moves that would
// re-enter an earlier or terminal state are rejected with *TransitionError.
func (s *Service) TransitionStatus(ctx context.Context, id string, next Status) (*Order, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if !CanTransition(o.Status, next) {
		return nil, &TransitionError{OrderID: id, From: string(o.Status), To: string(next)}
	}

	updated, err := s.ledger.UpdateStatus(ctx, id, o.Status, next)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %s status", id)
	}
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
	)
	return updated, nil
}

// TransitionPaymentStatus settles or fails a pending payment.
func (s *Service) TransitionPaymentStatus(ctx context.Context, id string, next PaymentStatus) (*Order, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	if !CanTransitionPayment(o.PaymentStatus, next) {
		return nil, &TransitionError{OrderID: id, From: string(o.PaymentStatus), To: string(next)}
	}

	updated, err := s.ledger.UpdatePaymentStatus(ctx, id, o.PaymentStatus, next)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %s payment status", id)
	}
	zctx.From(ctx).Info("Order payment status changed",
		zap.String("order_id", id),
		zap.String("from", string(o.PaymentStatus)),
		zap.String("to", string(next)),
	)
	return updated, nil
}
