package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Ledger = (*Ledger)(nil)

type idempotencyKey struct {
	userID string
	key    string
}

// Ledger is an append-only order store.
type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	byKey  map[idempotencyKey]string
	now    func() time.Time
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		orders: make(map[string]*order.Order),
		byKey:  make(map[idempotencyKey]string),
		now:    time.Now,
	}
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	return &cp
}

// Create stores o, failing with order.ErrDuplicateKey when the user already
// has an order under the same idempotency key.
func (l *Ledger) Create(_ context.Context, o *order.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := idempotencyKey{userID: o.UserID, key: o.IdempotencyKey}
	if o.IdempotencyKey != "" {
		if _, ok := l.byKey[k]; ok {
			return order.ErrDuplicateKey
		}
		l.byKey[k] = o.ID
	}
	l.orders[o.ID] = cloneOrder(o)
	return nil
}

// Get returns an order by ID.
func (l *Ledger) Get(_ context.Context, id string) (*order.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetForUser returns an order only when it belongs to userID.
func (l *Ledger) GetForUser(ctx context.Context, userID, id string) (*order.Order, error) {
	o, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// FindByIdempotencyKey returns the order created under key for userID.
func (l *Ledger) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	l.mu.RLock()
	id, ok := l.byKey[idempotencyKey{userID: userID, key: key}]
	l.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	return l.Get(ctx, id)
}

// ListByUser returns the user's orders newest first.
func (l *Ledger) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]order.Order, 0)
	for _, o := range l.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus sets the status when it still equals from.
func (l *Ledger) UpdateStatus(_ context.Context, id string, from, to order.Status) (*order.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != from {
		return nil, &order.TransitionError{OrderID: id, From: string(o.Status), To: string(to)}
	}
	o.Status = to
	o.UpdatedAt = l.now().UTC()
	return cloneOrder(o), nil
}

// UpdatePaymentStatus sets the payment status when it still equals from.
func (l *Ledger) UpdatePaymentStatus(_ context.Context, id string, from, to order.PaymentStatus) (*order.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.PaymentStatus != from {
		return nil, &order.TransitionError{OrderID: id, From: string(o.PaymentStatus), To: string(to)}
	}
	o.PaymentStatus = to
	o.UpdatedAt = l.now().UTC()
	return cloneOrder(o), nil
}
