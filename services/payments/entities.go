package main

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCharge       = errors.New("invalid charge")
	ErrDeclined            = errors.New("payment declined")
	ErrChargeNotFound      = errors.New("charge not found")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
)

// ChargeStatus representa os possíveis status de uma cobrança
type ChargeStatus string

const (
	ChargeStatusCaptured ChargeStatus = "CAPTURED"
	ChargeStatusRefunded ChargeStatus = "REFUNDED"
)

// Charge representa uma cobrança capturada
type Charge struct {
	ID              string          `json:"chargeId"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	PaymentMethodID string          `json:"paymentMethodId"`
	Amount          decimal.Decimal `json:"amount"`
	RefundedAmount  decimal.Decimal `json:"refundedAmount"`
	Currency        string          `json:"currency"`
	Status          ChargeStatus    `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewCharge cria uma nova instância de Charge já capturada
func NewCharge(idempotencyKey, paymentMethodID string, amount decimal.Decimal, currency string) *Charge {
	now := time.Now().UTC()
	return &Charge{
		ID:              "ch_" + uuid.New().String(),
		IdempotencyKey:  idempotencyKey,
		PaymentMethodID: paymentMethodID,
		Amount:          amount,
		RefundedAmount:  decimal.Zero,
		Currency:        currency,
		Status:          ChargeStatusCaptured,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// sameRequest reports whether a replayed capture matches the stored one.
func (c *Charge) sameRequest(paymentMethodID string, amount decimal.Decimal, currency string) bool {
	return c.PaymentMethodID == paymentMethodID && c.Amount.Equal(amount) && c.Currency == currency
}

// ChargeRequest representa a requisição de captura
type ChargeRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"paymentMethodId"`
	IdempotencyKey  string          `json:"idempotencyKey"`
}

// RefundRequest representa a requisição de estorno
type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
