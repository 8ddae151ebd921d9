package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() ShippingAddress {
	return ShippingAddress{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Address: "12 MG Road",
		City:    "Bengaluru",
		State:   "Karnataka",
		Pincode: "560001",
	}
}

func TestTotal(t *testing.T) {
	items := []Item{
		{ProductID: "a", UnitPrice: decimal.NewFromInt(500), Quantity: 2},
		{ProductID: "b", UnitPrice: decimal.NewFromInt(300), Quantity: 1},
	}
	assert.True(t, decimal.NewFromInt(1300).Equal(Total(items)))
}

func TestTotal_RoundsToCents(t *testing.T) {
	items := []Item{
		{ProductID: "a", UnitPrice: decimal.RequireFromString("0.333"), Quantity: 3},
	}
	assert.Equal(t, "1", Total(items).String())
}

func TestShippingAddress_Valid(t *testing.T) {
	require.NoError(t, validAddress().Validate())
}

func TestShippingAddress_NormalizePhone(t *testing.T) {
	a := validAddress()
	a.Phone = " 98765 43210 "
	a = a.Normalize()
	assert.Equal(t, "9876543210", a.Phone)
	require.NoError(t, a.Validate())
}

func TestShippingAddress_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ShippingAddress)
		field  string
	}{
		{"missing name", func(a *ShippingAddress) { a.Name = "" }, "name"},
		{"short phone", func(a *ShippingAddress) { a.Phone = "12345" }, "phone"},
		{"letters in phone", func(a *ShippingAddress) { a.Phone = "98765abcde" }, "phone"},
		{"missing city", func(a *ShippingAddress) { a.City = "" }, "city"},
		{"long pincode", func(a *ShippingAddress) { a.Pincode = "5600011" }, "pincode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAddress()
			tt.mutate(&a)

			var addrErr *AddressError
			require.ErrorAs(t, a.Validate(), &addrErr)
			assert.Equal(t, tt.field, addrErr.Field)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusProcessing, StatusShipped))
	assert.True(t, CanTransition(StatusShipped, StatusDelivered))
	assert.True(t, CanTransition(StatusProcessing, StatusCancelled))
	assert.True(t, CanTransition(StatusShipped, StatusCancelled))

	assert.False(t, CanTransition(StatusShipped, StatusProcessing))
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusProcessing))
	assert.False(t, CanTransition(StatusProcessing, StatusDelivered))
	assert.False(t, CanTransition(StatusProcessing, StatusProcessing))
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentCompleted))
	assert.True(t, CanTransitionPayment(PaymentPending, PaymentFailed))
	assert.False(t, CanTransitionPayment(PaymentCompleted, PaymentPending))
	assert.False(t, CanTransitionPayment(PaymentFailed, PaymentCompleted))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("lost")
	require.Error(t, err)
}
