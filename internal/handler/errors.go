package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/stock"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindBadRequest        = "bad_request"
	kindValidation        = "validation"
	kindUnauthorized      = "unauthorized"
	kindForbidden         = "forbidden"
	kindNotFound          = "not_found"
	kindEmptyCart         = "empty_cart"
	kindInsufficientStock = "insufficient_stock"
	kindCartChanged       = "cart_changed"
	kindPaymentRejected   = "payment_rejected"
	kindPaymentTimeout    = "payment_timeout"
	kindInvalidQuantity   = "invalid_quantity"
	kindExceedsStock      = "exceeds_stock"
	kindInvalidTransition = "invalid_transition"
	kindInternal          = "internal"
)

// badRequestError marks malformed request bodies and parameters.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// writeError writes the {code, kind, message, details} body.
func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string, details func(e *jx.Encoder)) {
	writeJSON(w, r, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			if details != nil {
				e.Field("details", details)
			}
		})
	})
}

// handleError maps domain errors to HTTP responses. Unknown errors are
// logged and reported as 500 without their message.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq     *badRequestError
		validation *checkout.ValidationError
		shortage   *stock.InsufficientStockError
		invalidQty *cart.InvalidQuantityError
		exceeds    *cart.ExceedsStockError
		transition *order.TransitionError
		aborted    *checkout.AbortedError
	)
	stageDetail := func(e *jx.Encoder) {}
	if errors.As(err, &aborted) {
		stage := string(aborted.Stage)
		stageDetail = func(e *jx.Encoder) {
			e.Field("stage", func(e *jx.Encoder) { e.Str(stage) })
		}
	}
	withStage := func(fn func(e *jx.Encoder)) func(e *jx.Encoder) {
		return func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				stageDetail(e)
				if fn != nil {
					fn(e)
				}
			})
		}
	}

	switch {
	case errors.As(err, &badReq):
		writeError(w, r, http.StatusBadRequest, kindBadRequest, badReq.msg, nil)
	case errors.As(err, &validation):
		writeError(w, r, http.StatusBadRequest, kindValidation, validation.Error(), withStage(func(e *jx.Encoder) {
			e.Field("field", func(e *jx.Encoder) { e.Str(validation.Field) })
		}))
	case errors.Is(err, checkout.ErrEmptyCart):
		writeError(w, r, http.StatusBadRequest, kindEmptyCart, "cart is empty", withStage(nil))
	case errors.As(err, &shortage):
		writeError(w, r, http.StatusConflict, kindInsufficientStock, shortage.Error(), withStage(func(e *jx.Encoder) {
			e.Field("products", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, s := range shortage.Shortages {
						encodeShortage(e, s)
					}
				})
			})
		}))
	case errors.Is(err, checkout.ErrCartChanged):
		writeError(w, r, http.StatusConflict, kindCartChanged, "cart changed during checkout, please review it and retry", withStage(nil))
	case errors.Is(err, checkout.ErrPaymentTimeout):
		writeError(w, r, http.StatusGatewayTimeout, kindPaymentTimeout, "payment confirmation timed out", withStage(nil))
	case errors.Is(err, checkout.ErrPaymentRejected):
		writeError(w, r, http.StatusPaymentRequired, kindPaymentRejected, "payment was rejected", withStage(nil))
	case errors.As(err, &invalidQty):
		writeError(w, r, http.StatusBadRequest, kindInvalidQuantity, invalidQty.Error(), nil)
	case errors.As(err, &exceeds):
		writeError(w, r, http.StatusConflict, kindExceedsStock, exceeds.Error(), func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("productId", func(e *jx.Encoder) { e.Str(exceeds.ProductID) })
				e.Field("available", func(e *jx.Encoder) { e.Int(exceeds.Available) })
			})
		})
	case errors.As(err, &transition):
		writeError(w, r, http.StatusConflict, kindInvalidTransition, transition.Error(), nil)
	case errors.Is(err, product.ErrNotFound):
		writeError(w, r, http.StatusNotFound, kindNotFound, "product not found", withStage(nil))
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, kindNotFound, "order not found", nil)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		zctx.From(r.Context()).Debug("Client went away", zap.Error(err))
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, kindInternal, "internal server error", nil)
	}
}

func encodeShortage(e *jx.Encoder, s stock.Shortage) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(s.ProductID) })
		e.Field("requested", func(e *jx.Encoder) { e.Int(s.Requested) })
		e.Field("available", func(e *jx.Encoder) { e.Int(s.Available) })
		if s.Missing {
			e.Field("missing", func(e *jx.Encoder) { e.Bool(true) })
		}
	})
}
