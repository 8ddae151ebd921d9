package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, r *http.Request, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response failed", zap.Error(err))
	}
}

// decodeBody reads a JSON object from the request body, calling fn for each
// field.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	if len(body) == 0 {
		return badRequest("request body is required")
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		var badReq *badRequestError
		if errors.As(err, &badReq) {
			return err
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image.Thumbnail)) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image.Mobile)) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image.Tablet)) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image.Desktop)) })
			})
		})
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("inStock", func(e *jx.Encoder) { e.Bool(p.Stock > 0) })
	})
}

// encodeCart writes the cart with current catalog details. Lines whose
// product left the catalog are reported as unavailable and excluded from
// the estimated total.
func (h *Handler) encodeCart(e *jx.Encoder, c *cart.Cart, products map[string]product.Product) {
	total := decimal.Zero
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("version", func(e *jx.Encoder) { e.Int64(c.Version) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, l := range c.Lines {
				p, ok := products[l.ProductID]
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
					e.Field("available", func(e *jx.Encoder) { e.Bool(ok) })
					if !ok {
						return
					}
					subtotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
					total = total.Add(subtotal)
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("price", func(e *jx.Encoder) { encodeMoney(e, p.Price) })
					e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, subtotal) })
					e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(p.Image.Ref())) })
				})
			}
			e.ArrEnd()
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, total) })
	})
}

func (h *Handler) encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
					e.Field("price", func(e *jx.Encoder) { encodeMoney(e, it.UnitPrice) })
					e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
					e.Field("image", func(e *jx.Encoder) { e.Str(h.imageURL(it.ImageRef)) })
				})
			}
			e.ArrEnd()
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.ShippingAddress) })
		e.Field("idempotencyKey", func(e *jx.Encoder) { e.Str(o.IdempotencyKey) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(o.UpdatedAt.UTC().Format(time.RFC3339)) })
	})
}

func encodeAddress(e *jx.Encoder, a order.ShippingAddress) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
		e.Field("address", func(e *jx.Encoder) { e.Str(a.Address) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
		e.Field("pincode", func(e *jx.Encoder) { e.Str(a.Pincode) })
	})
}

func decodeAddress(d *jx.Decoder) (order.ShippingAddress, error) {
	var a order.ShippingAddress
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name", "fullName":
			a.Name, err = d.Str()
		case "phone":
			a.Phone, err = d.Str()
		case "address":
			a.Address, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "state":
			a.State, err = d.Str()
		case "pincode":
			a.Pincode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}
