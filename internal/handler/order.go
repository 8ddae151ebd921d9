package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
)

// Idempotency headers of the order creation endpoint.
const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

const maxIdempotencyKeyLen = 128

// CreateOrder checks out the caller's cart. A new order answers 201; a
// replayed idempotency key answers 200 with the existing order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	req := checkout.Request{
		UserID:         principal(r).UserID,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		handleError(w, r, badRequest("%s must be at most %d characters", HeaderIdempotencyKey, maxIdempotencyKeyLen))
		return
	}

	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		w.Header().Set(HeaderIdempotentReplayed, "true")
	}
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, r, status, func(e *jx.Encoder) {
		h.encodeOrder(e, res.Order)
	})
}

// ListOrders returns the caller's order history newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.History(r.Context(), principal(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			h.encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

// GetOrder returns one of the caller's orders. Orders of other users are
// reported as not found.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), principal(r).UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// UpdateOrderStatus moves an order along its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeStatus(w, r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	next, err := order.ParseStatus(raw)
	if err != nil {
		handleError(w, r, badRequest("%v", err))
		return
	}
	o, err := h.orders.TransitionStatus(r.Context(), chi.URLParam(r, "orderId"), next)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

// UpdatePaymentStatus settles or fails a pending payment.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeStatus(w, r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	next, err := order.ParsePaymentStatus(raw)
	if err != nil {
		handleError(w, r, badRequest("%v", err))
		return
	}
	o, err := h.orders.TransitionPaymentStatus(r.Context(), chi.URLParam(r, "orderId"), next)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeOrder(e, o)
	})
}

func decodeStatus(w http.ResponseWriter, r *http.Request) (string, error) {
	var status string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", badRequest("status is required")
	}
	return status, nil
}
