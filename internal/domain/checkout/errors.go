package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/product"
)

// Sentinel errors for checkout aborts. Insufficient stock is reported as
// *stock.InsufficientStockError and unknown products wrap product.ErrNotFound.
var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrPaymentRejected = errors.New("payment rejected")
	ErrPaymentTimeout  = errors.New("payment confirmation timed out")
	ErrCartChanged     = errors.New("cart changed during checkout")
)

// Stage is a step of a single checkout attempt.
type Stage string

const (
	StageValidating Stage = "validating"
	StageReserving  Stage = "reserving"
	StageConfirming Stage = "confirming"
	StageCommitting Stage = "committing"
	StageDone       Stage = "done"
)

// AbortedError is returned for every failed attempt. It records the stage
// the attempt stopped in and wraps the reason.
type AbortedError struct {
	Stage Stage
	Err   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("checkout aborted while %s: %v", e.Stage, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// ValidationError reports an invalid checkout request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProductNotFoundError indicates a cart line whose product left the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Is lets callers match product.ErrNotFound.
func (e *ProductNotFoundError) Is(target error) bool {
	return target == product.ErrNotFound
}
