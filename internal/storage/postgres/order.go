package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/outbox"
)

const (
	orderColumns = `id, user_id, items, total, payment_method, payment_status, status,
		shipping_address, idempotency_key, cart_version, reservation_id, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUserSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`
	getOrderByKeySQL     = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND idempotency_key = $2`
	listOrdersForUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + orderColumns

	updatePaymentStatusSQL = `UPDATE orders SET payment_status = $3, updated_at = now()
		WHERE id = $1 AND payment_status = $2
		RETURNING ` + orderColumns

	getOrderStatusSQL = `SELECT status, payment_status FROM orders WHERE id = $1`

	insertOutboxSQL = `INSERT INTO outbox (topic, key, payload) VALUES ($1, $2, $3)`
)

var _ order.Ledger = (*OrderLedger)(nil)

// OrderLedger implements order.Ledger backed by PostgreSQL. Every write
// records its lifecycle event in the outbox within the same transaction.
type OrderLedger struct {
	pool *pgxpool.Pool
}

// NewOrderLedger returns an OrderLedger that uses the given pool.
func NewOrderLedger(pool *pgxpool.Pool) *OrderLedger {
	return &OrderLedger{pool: pool}
}

// Create persists a new order.
func (l *OrderLedger) Create(ctx context.Context, o *order.Order) error {
	return inTx(ctx, l.pool, func(tx pgx.Tx) error {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, outbox.OrderCreated(o))
	})
}

// Get returns an order by ID.
func (l *OrderLedger) Get(ctx context.Context, id string) (*order.Order, error) {
	return l.one(ctx, getOrderSQL, id)
}

// GetForUser returns an order only when it belongs to userID.
func (l *OrderLedger) GetForUser(ctx context.Context, userID, id string) (*order.Order, error) {
	return l.one(ctx, getOrderForUserSQL, id, userID)
}

// FindByIdempotencyKey returns the order the user created under key.
func (l *OrderLedger) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return l.one(ctx, getOrderByKeySQL, userID, key)
}

// ListByUser returns the user's orders newest first.
func (l *OrderLedger) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := l.pool.Query(ctx, listOrdersForUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	return orders, nil
}

// UpdateStatus moves the order from one status to another if it still has
// status from.
func (l *OrderLedger) UpdateStatus(ctx context.Context, id string, from, to order.Status) (*order.Order, error) {
	return l.update(ctx, id, updateOrderStatusSQL, string(from), string(to), outbox.EventOrderStatusChanged,
		func(status string, _ string) string { return status })
}

// UpdatePaymentStatus moves the payment status if it still equals from.
func (l *OrderLedger) UpdatePaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus) (*order.Order, error) {
	return l.update(ctx, id, updatePaymentStatusSQL, string(from), string(to), outbox.EventOrderPaymentStatusChanged,
		func(_ string, paymentStatus string) string { return paymentStatus })
}

// update applies a compare-and-set status write. current picks the column
// reported in *order.TransitionError when the precondition fails.
func (l *OrderLedger) update(
	ctx context.Context,
	id, sql, from, to, eventType string,
	current func(status, paymentStatus string) string,
) (*order.Order, error) {
	var updated order.Order
	err := inTx(ctx, l.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, id, from, to)
		if err != nil {
			return errors.Wrap(err, "update order")
		}
		updated, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		if errors.Is(err, pgx.ErrNoRows) {
			var status, paymentStatus string
			if err := tx.QueryRow(ctx, getOrderStatusSQL, id).Scan(&status, &paymentStatus); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return order.ErrNotFound
				}
				return errors.Wrap(err, "get order status")
			}
			return &order.TransitionError{OrderID: id, From: current(status, paymentStatus), To: to}
		}
		if err != nil {
			return errors.Wrap(err, "scan order")
		}
		return insertOutbox(ctx, tx, outbox.StatusChanged(eventType, &updated, from, to))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *OrderLedger) one(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}

func insertOrder(ctx context.Context, q querier, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	_, err = q.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, items, o.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		address, o.IdempotencyKey, o.CartVersion, o.ReservationID,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicateKey
		}
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

func insertOutbox(ctx context.Context, q querier, m outbox.Message) error {
	if _, err := q.Exec(ctx, insertOutboxSQL, m.Topic, m.Key, m.Payload); err != nil {
		return errors.Wrap(err, "insert outbox")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		items, address []byte
		method         string
		paymentStatus  string
		status         string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.Total,
		&method, &paymentStatus, &status,
		&address, &o.IdempotencyKey, &o.CartVersion, &o.ReservationID,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = payment.Method(method)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal items")
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, errors.Wrap(err, "unmarshal shipping address")
	}
	return o, nil
}
