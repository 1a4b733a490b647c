package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// ChargeResult is the payment collaborator's answer to a capture.
type ChargeResult struct {
	ChargeRef string
	Outcome   PaymentOutcome
}

// PaymentClient charges and refunds through the payment collaborator. Retrying
// a capture with the same idempotency key never charges twice.
type PaymentClient interface {
	AuthorizeAndCapture(ctx context.Context, amount decimal.Decimal, currency, paymentMethodID, idempotencyKey string) (ChargeResult, error)
	Refund(ctx context.Context, chargeRef string, amount decimal.Decimal) error
}

type chargeRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"paymentMethodId"`
	IdempotencyKey  string          `json:"idempotencyKey"`
}

type chargeResponse struct {
	ChargeID string `json:"chargeId"`
	Status   string `json:"status"`
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HTTPPaymentClient talks to the payments service REST API.
type HTTPPaymentClient struct {
	payments *collaborator
}

func NewHTTPPaymentClient(baseURL string) *HTTPPaymentClient {
	return &HTTPPaymentClient{payments: newCollaborator("payments", baseURL)}
}

func (c *HTTPPaymentClient) AuthorizeAndCapture(ctx context.Context, amount decimal.Decimal, currency, paymentMethodID, idempotencyKey string) (ChargeResult, error) {
	if idempotencyKey == "" || paymentMethodID == "" {
		return ChargeResult{}, fmt.Errorf("payment method and idempotency key are required: %w", ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return ChargeResult{}, fmt.Errorf("charge amount must be positive, got %s: %w", amount, ErrInvalidArgument)
	}

	var out chargeResponse
	resp, err := c.payments.execute(ctx, func() (*resty.Response, error) {
		return c.payments.request(ctx).
			SetHeader(headerIdempotencyKey, idempotencyKey).
			SetBody(chargeRequest{
				Amount:          amount,
				Currency:        currency,
				PaymentMethodID: paymentMethodID,
				IdempotencyKey:  idempotencyKey,
			}).
			SetResult(&out).
			Post("/api/payments/charges")
	})
	if err != nil {
		return ChargeResult{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		outcome := PaymentOutcome(out.Status)
		if outcome != PaymentAuthorized {
			outcome = PaymentCaptured
		}
		return ChargeResult{ChargeRef: out.ChargeID, Outcome: outcome}, nil
	case http.StatusPaymentRequired:
		return ChargeResult{}, fmt.Errorf("charge %s: %w", idempotencyKey, ErrDeclined)
	default:
		return ChargeResult{}, fmt.Errorf("payments answered %d for charge %s: %w", resp.StatusCode(), idempotencyKey, ErrInvalidArgument)
	}
}

func (c *HTTPPaymentClient) Refund(ctx context.Context, chargeRef string, amount decimal.Decimal) error {
	if chargeRef == "" {
		return fmt.Errorf("charge reference is required: %w", ErrInvalidArgument)
	}

	resp, err := c.payments.execute(ctx, func() (*resty.Response, error) {
		return c.payments.request(ctx).
			SetBody(refundRequest{Amount: amount}).
			Post("/api/payments/charges/" + url.PathEscape(chargeRef) + "/refund")
	})
	if err != nil {
		return err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("charge %s: %w", chargeRef, ErrNotFound)
	default:
		return fmt.Errorf("payments answered %d refunding %s: %w", resp.StatusCode(), chargeRef, ErrInvalidArgument)
	}
}
