package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/payment"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateKey is returned by Ledger.Create when an order with the same
	// (user, idempotency key) already exists.
	ErrDuplicateKey = errors.New("order with this idempotency key already exists")
)

// Order is the immutable record of a completed checkout. Only Status and
// PaymentStatus change after creation.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	Total           decimal.Decimal
	PaymentMethod   payment.Method
	PaymentStatus   PaymentStatus
	Status          Status
	ShippingAddress ShippingAddress
	IdempotencyKey  string
	CartVersion     int64
	ReservationID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is a line item frozen at checkout time.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	ImageRef  string          `json:"image_ref"`
}

// Subtotal returns UnitPrice × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingAddress is a denormalized copy of where the order ships.
type ShippingAddress struct {
	Name    string `json:"name" validate:"required,max=128"`
	Phone   string `json:"phone" validate:"required,numeric,len=10"`
	Address string `json:"address" validate:"required,max=512"`
	City    string `json:"city" validate:"required,max=128"`
	State   string `json:"state" validate:"required,max=128"`
	Pincode string `json:"pincode" validate:"required,numeric,len=6"`
}

// Total sums the subtotals of items, rounded to 2 decimal places.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum.Round(2)
}

// Ledger is the append-only store of orders.
type Ledger interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUser(ctx context.Context, userID, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	// ListByUser returns the user's orders newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus moves an order from status from to status to, failing
	// with *TransitionError when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Order, error)
	UpdatePaymentStatus(ctx context.Context, id string, from, to PaymentStatus) (*Order, error)
}
