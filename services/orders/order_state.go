package main

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus representa os possíveis status de um pedido
type OrderStatus string

const (
	OrderStatusDraft          OrderStatus = "DRAFT"
	OrderStatusPriced         OrderStatus = "PRICED"
	OrderStatusAddressed      OrderStatus = "ADDRESSED"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusPricingFailed  OrderStatus = "PRICING_FAILED"
	OrderStatusAddressFailed  OrderStatus = "ADDRESS_FAILED"
	OrderStatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	OrderStatusCompensating   OrderStatus = "COMPENSATING"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:          {OrderStatusPriced, OrderStatusPricingFailed},
	OrderStatusPriced:         {OrderStatusAddressed, OrderStatusAddressFailed},
	OrderStatusAddressed:      {OrderStatusPaymentPending},
	OrderStatusPaymentPending: {OrderStatusPaid, OrderStatusPaymentFailed},
	OrderStatusPaid:           {OrderStatusConfirmed, OrderStatusCompensating},
	OrderStatusPricingFailed:  {OrderStatusCompensating},
	OrderStatusAddressFailed:  {OrderStatusCompensating},
	OrderStatusPaymentFailed:  {OrderStatusCompensating},
	OrderStatusCompensating:   {OrderStatusCancelled},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCancelled
}

func (s OrderStatus) IsFailed() bool {
	return s == OrderStatusPricingFailed || s == OrderStatusAddressFailed || s == OrderStatusPaymentFailed
}

func (s OrderStatus) String() string {
	return string(s)
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (o *Order) transition(to OrderStatus) error {
	if !CanTransitionTo(o.Status, to) {
		return fmt.Errorf("%s -> %s: %w", o.Status, to, ErrIllegalTransition)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Price moves DRAFT to PRICED when every cart line is covered by a quote with
// enough availability. Otherwise the order moves to PRICING_FAILED and the
// offending product ids are returned.
func (o *Order) Price(items []CartItem, quotes map[string]PriceQuote) ([]string, error) {
	var offending []string
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		q, ok := quotes[item.ProductID]
		if !ok || !q.OK() || q.Available < item.Quantity {
			offending = append(offending, item.ProductID)
			continue
		}
		lines = append(lines, OrderLine{
			ProductID:   item.ProductID,
			ProductName: q.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   q.UnitPrice,
		})
	}

	if len(offending) > 0 {
		reason := "no valid quote or insufficient availability for " + strings.Join(offending, ", ")
		return offending, o.Fail(StepPricing, reason)
	}
	if err := o.transition(OrderStatusPriced); err != nil {
		return nil, err
	}
	o.Lines = lines
	return nil, nil
}

func (o *Order) Address(billing, shipping AddressSnapshot) error {
	if err := o.transition(OrderStatusAddressed); err != nil {
		return err
	}
	o.BillingAddress = &billing
	o.ShippingAddress = &shipping
	return nil
}

func (o *Order) MarkPaymentPending() error {
	return o.transition(OrderStatusPaymentPending)
}

func (o *Order) MarkPaid() error {
	return o.transition(OrderStatusPaid)
}

// Confirm requires exactly one captured attempt among attempts.
func (o *Order) Confirm(attempts []PaymentAttempt) error {
	captured := 0
	for _, a := range attempts {
		if a.Outcome == PaymentCaptured {
			captured++
		}
	}
	if captured != 1 {
		return fmt.Errorf("order %s has %d captured payments: %w", o.ID, captured, ErrIllegalTransition)
	}
	return o.transition(OrderStatusConfirmed)
}

// Fail moves the order into the failure branch of step.
func (o *Order) Fail(step SagaStep, reason string) error {
	var to OrderStatus
	switch step {
	case StepPricing:
		to = OrderStatusPricingFailed
	case StepAddress:
		to = OrderStatusAddressFailed
	case StepPayment:
		to = OrderStatusPaymentFailed
	case StepConfirmation:
		to = OrderStatusCompensating
	default:
		return fmt.Errorf("unknown step %q: %w", step, ErrIllegalTransition)
	}
	if err := o.transition(to); err != nil {
		return err
	}
	o.FailureStep = step
	o.FailureReason = reason
	return nil
}

func (o *Order) StartCompensation() error {
	if o.Status == OrderStatusCompensating {
		return nil
	}
	return o.transition(OrderStatusCompensating)
}

func (o *Order) Cancel() error {
	return o.transition(OrderStatusCancelled)
}
