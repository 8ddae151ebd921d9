package order

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// AddressError describes the first invalid shipping address field.
type AddressError struct {
	Field string
	Rule  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("shipping address %s fails %q", e.Field, e.Rule)
}

// Normalize trims surrounding whitespace and strips spaces from the phone
// number, matching how the checkout form accepts "98765 43210".
func (a ShippingAddress) Normalize() ShippingAddress {
	return ShippingAddress{
		Name:    strings.TrimSpace(a.Name),
		Phone:   strings.ReplaceAll(strings.TrimSpace(a.Phone), " ", ""),
		Address: strings.TrimSpace(a.Address),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		Pincode: strings.TrimSpace(a.Pincode),
	}
}

// Validate checks that every field is present, the phone has 10 digits and
// the pincode has 6 digits.
func (a ShippingAddress) Validate() error {
	err := validate.Struct(a)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &AddressError{Field: fieldErrs[0].Field(), Rule: fieldErrs[0].Tag()}
	}
	return errors.Wrap(err, "validate shipping address")
}
