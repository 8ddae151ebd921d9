package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Checkouter runs a checkout attempt.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler serves the storefront REST API, delegating business logic to the
// domain services.
type Handler struct {
	products     product.Repository
	carts        *cart.Service
	checkout     Checkouter
	orders       *order.Service
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	carts *cart.Service,
	checkout Checkouter,
	orders *order.Service,
) *Handler {
	return &Handler{
		products:     products,
		carts:        carts,
		checkout:     checkout,
		orders:       orders,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API router. Catalog routes are public; everything else
// requires an API key, and the admin routes the operator scope.
func (h *Handler) Routes(sec *SecurityHandler) chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, kindNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, kindBadRequest, "method not allowed", nil)
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productId}", h.GetProduct)

	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/add", h.AddToCart)
			r.Put("/update/{productId}", h.UpdateCartLine)
			r.Delete("/remove/{productId}", h.RemoveCartLine)
			r.Delete("/clear", h.ClearCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/create", h.CreateOrder)
			r.Get("/{orderId}", h.GetOrder)
		})

		r.Route("/admin/orders/{orderId}", func(r chi.Router) {
			r.Use(RequireScope(auth.ScopeOperator))
			r.Post("/status", h.UpdateOrderStatus)
			r.Post("/payment-status", h.UpdatePaymentStatus)
		})
	})
	return r
}

// principal returns the authenticated caller. Routes behind Authenticate
// always have one.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
