package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// GetCart returns the caller's cart priced at current catalog prices.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), principal(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.writeCart(w, r, c)
}

// AddToCart adds a quantity of a product, defaulting to one unit.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		quantity  = 1
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	if productID == "" {
		handleError(w, r, badRequest("productId is required"))
		return
	}

	c, err := h.carts.Add(r.Context(), principal(r).UserID, productID, quantity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.writeCart(w, r, c)
}

// UpdateCartLine sets the quantity of a product. Zero removes it.
func (h *Handler) UpdateCartLine(w http.ResponseWriter, r *http.Request) {
	var (
		quantity int
		seen     bool
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		seen = true
		var err error
		quantity, err = d.Int()
		return err
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	if !seen {
		handleError(w, r, badRequest("quantity is required"))
		return
	}

	c, err := h.carts.Update(r.Context(), principal(r).UserID, chi.URLParam(r, "productId"), quantity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.writeCart(w, r, c)
}

// RemoveCartLine drops a product from the cart.
func (h *Handler) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Remove(r.Context(), principal(r).UserID, chi.URLParam(r, "productId"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.writeCart(w, r, c)
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), principal(r).UserID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	h.writeCart(w, r, c)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, c *cart.Cart) {
	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	var products []product.Product
	if len(ids) > 0 {
		var err error
		if products, err = h.products.GetByIDs(r.Context(), ids); err != nil {
			handleError(w, r, errors.Wrap(err, "load cart products"))
			return
		}
	}
	index := product.Index(products)
	writeJSON(w, r, http.StatusOK, func(e *jx.Encoder) {
		h.encodeCart(e, c, index)
	})
}
