package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCart(t *testing.T) {
	// Act
	cart := NewCart("user-1")

	// Assert
	assert.NotEmpty(t, cart.ID)
	assert.Equal(t, "user-1", cart.OwnerID)
	assert.Equal(t, CartStatusOpen, cart.Status)
	assert.Empty(t, cart.Items)
	assert.WithinDuration(t, time.Now(), cart.CreatedAt, time.Second)
}

func TestCart_AddItemMergesSameProduct(t *testing.T) {
	// Arrange
	cart := NewCart("user-1")
	first, err := cart.AddItem("P1", 2)
	require.NoError(t, err)

	// Act
	merged, err := cart.AddItem("P1", 3)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 5, merged.Quantity)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Version)
}

func TestCart_AddItemRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		productID string
		quantity  int
	}{
		{"missing product", "", 1},
		{"zero quantity", "P1", 0},
		{"negative quantity", "P1", -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := NewCart("user-1")

			_, err := cart.AddItem(tt.productID, tt.quantity)

			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, cart.Items)
			assert.Equal(t, 1, cart.Version)
		})
	}
}

func TestCart_RemoveItem(t *testing.T) {
	cart := NewCart("user-1")
	item, _ := cart.AddItem("P1", 1)
	_, _ = cart.AddItem("P2", 1)

	require.NoError(t, cart.RemoveItem(item.ID))

	require.Len(t, cart.Items, 1)
	assert.Equal(t, "P2", cart.Items[0].ProductID)
	assert.ErrorIs(t, cart.RemoveItem("nope"), ErrNotFound)
}

func TestCart_ClosedCartRejectsMutation(t *testing.T) {
	cart := NewCart("user-1")
	cart.Status = CartStatusCheckedOut

	_, err := cart.AddItem("P1", 1)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, cart.Clear(), ErrConflict)
}

func TestOrder_TotalIsDerivedFromLines(t *testing.T) {
	// Arrange
	order := NewOrder("o-1", "user-1", "c-1", "pm-1", "USD", "k-1")
	order.Lines = []OrderLine{
		{ProductID: "P1", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
		{ProductID: "P2", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99")},
	}

	// Act
	total := order.Total()
	raw, err := json.Marshal(order)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "20.29", total.StringFixed(2))
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "20.29", body["totalPrice"])
	assert.Equal(t, "o-1", body["orderId"])
	assert.NotContains(t, body, "IdempotencyKey")
}

func TestOrder_PriceFreezesQuotedPrices(t *testing.T) {
	// Arrange
	order := NewOrder("o-1", "user-1", "c-1", "pm-1", "USD", "k-1")
	items := []CartItem{{ProductID: "P1", Quantity: 2}}
	quotes := map[string]PriceQuote{
		"P1": {ProductID: "P1", ProductName: "Refactoring", UnitPrice: decimal.RequireFromString("10.00"), Available: 5},
	}

	// Act
	offending, err := order.Price(items, quotes)
	quotes["P1"] = PriceQuote{ProductID: "P1", UnitPrice: decimal.RequireFromString("99.00"), Available: 5}

	// Assert
	require.NoError(t, err)
	assert.Empty(t, offending)
	assert.Equal(t, OrderStatusPriced, order.Status)
	assert.Equal(t, "20.00", order.Total().StringFixed(2))
}

func TestOrder_PriceReportsOffendingProducts(t *testing.T) {
	order := NewOrder("o-1", "user-1", "c-1", "pm-1", "USD", "k-1")
	items := []CartItem{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 1},
		{ProductID: "P3", Quantity: 1},
	}
	quotes := map[string]PriceQuote{
		"P1": {ProductID: "P1", UnitPrice: decimal.NewFromInt(10), Available: 1},
		"P2": {ProductID: "P2", UnitPrice: decimal.NewFromInt(5), Available: 9},
		"P3": {ProductID: "P3", Failure: QuoteNotFound},
	}

	offending, err := order.Price(items, quotes)

	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P3"}, offending)
	assert.Equal(t, OrderStatusPricingFailed, order.Status)
	assert.Equal(t, StepPricing, order.FailureStep)
	assert.Empty(t, order.Lines)
}

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderStatusDraft, OrderStatusPriced, true},
		{OrderStatusDraft, OrderStatusPaid, false},
		{OrderStatusAddressed, OrderStatusPaymentPending, true},
		{OrderStatusAddressed, OrderStatusPaymentFailed, false},
		{OrderStatusPaid, OrderStatusCompensating, true},
		{OrderStatusPaymentFailed, OrderStatusCancelled, false},
		{OrderStatusCompensating, OrderStatusCancelled, true},
		{OrderStatusConfirmed, OrderStatusCompensating, false},
		{OrderStatusCancelled, OrderStatusDraft, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestOrder_ConfirmRequiresExactlyOneCapture(t *testing.T) {
	newPaid := func() *Order {
		o := NewOrder("o-1", "user-1", "c-1", "pm-1", "USD", "k-1")
		o.Status = OrderStatusPaid
		return o
	}

	assert.ErrorIs(t, newPaid().Confirm(nil), ErrIllegalTransition)
	assert.ErrorIs(t, newPaid().Confirm([]PaymentAttempt{
		{Number: 1, Outcome: PaymentCaptured},
		{Number: 2, Outcome: PaymentCaptured},
	}), ErrIllegalTransition)

	order := newPaid()
	require.NoError(t, order.Confirm([]PaymentAttempt{
		{Number: 1, Outcome: PaymentFailed},
		{Number: 2, Outcome: PaymentCaptured},
	}))
	assert.Equal(t, OrderStatusConfirmed, order.Status)
}

func TestOrder_FailureBranches(t *testing.T) {
	order := NewOrder("o-1", "user-1", "c-1", "pm-1", "USD", "k-1")

	assert.ErrorIs(t, order.Fail(StepPayment, "too early"), ErrIllegalTransition)
	require.NoError(t, order.Fail(StepPricing, "catalog unavailable"))
	require.NoError(t, order.StartCompensation())
	require.NoError(t, order.StartCompensation())
	require.NoError(t, order.Cancel())

	assert.Equal(t, OrderStatusCancelled, order.Status)
	assert.Equal(t, "catalog unavailable", order.FailureReason)
	assert.True(t, order.Status.IsTerminal())
}

func TestSagaError_Message(t *testing.T) {
	err := &SagaError{Step: StepPricing, OrderID: "o-1", Products: []string{"P1", "P2"}, Err: ErrNotFound}

	assert.Equal(t, "order o-1 failed at pricing step (products: P1, P2): not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}
