package outbox

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

// Event types and the topic they are published on.
const (
	TopicOrders = "storefront.orders"

	EventOrderCreated              = "order.created"
	EventOrderStatusChanged        = "order.status_changed"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
)

// OrderCreated builds the message announcing a committed order.
func OrderCreated(o *order.Order) Message {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(EventOrderCreated) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Str(it.UnitPrice.StringFixed(2)) })
					})
				}
			})
		})
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return Message{Topic: TopicOrders, Key: o.ID, Payload: e.Bytes()}
}

// StatusChanged builds the message for an order or payment status move.
// eventType is EventOrderStatusChanged or EventOrderPaymentStatusChanged.
func StatusChanged(eventType string, o *order.Order, from, to string) Message {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(eventType) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(from) })
		e.Field("to", func(e *jx.Encoder) { e.Str(to) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339Nano)) })
	})
	return Message{Topic: TopicOrders, Key: o.ID, Payload: e.Bytes()}
}
