package main

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChargeRepository simula o repositório de cobranças
type MockChargeRepository struct {
	mock.Mock
}

func (m *MockChargeRepository) Capture(ctx context.Context, charge *Charge) (*Charge, error) {
	args := m.Called(ctx, charge)
	c, _ := args.Get(0).(*Charge)
	return c, args.Error(1)
}

func (m *MockChargeRepository) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Charge, error) {
	args := m.Called(ctx, chargeID, amount)
	c, _ := args.Get(0).(*Charge)
	return c, args.Error(1)
}

func (m *MockChargeRepository) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	args := m.Called(ctx, chargeID)
	c, _ := args.Get(0).(*Charge)
	return c, args.Error(1)
}

func chargeRequest(key, amount string) ChargeRequest {
	return ChargeRequest{
		Amount:          decimal.RequireFromString(amount),
		Currency:        "usd",
		PaymentMethodID: "pm-visa",
		IdempotencyKey:  key,
	}
}

func TestPaymentUseCase_Capture(t *testing.T) {
	ctx := context.Background()

	t.Run("captures and normalizes currency", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())

		charge, err := uc.Capture(ctx, chargeRequest("order-1-1", "27.25"))

		require.NoError(t, err)
		assert.Equal(t, ChargeStatusCaptured, charge.Status)
		assert.Equal(t, "USD", charge.Currency)
		assert.True(t, charge.Amount.Equal(decimal.RequireFromString("27.25")))
		assert.Contains(t, charge.ID, "ch_")
	})

	t.Run("same key returns the first charge", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())
		first, err := uc.Capture(ctx, chargeRequest("order-2-1", "10.00"))
		require.NoError(t, err)

		second, err := uc.Capture(ctx, chargeRequest("order-2-1", "10"))

		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("same key with a different amount is rejected", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())
		_, err := uc.Capture(ctx, chargeRequest("order-3-1", "10.00"))
		require.NoError(t, err)

		_, err = uc.Capture(ctx, chargeRequest("order-3-1", "11.00"))

		assert.ErrorIs(t, err, ErrIdempotencyMismatch)
	})

	t.Run("decline payment methods are refused", func(t *testing.T) {
		repo := new(MockChargeRepository)
		uc := NewPaymentUseCase(repo)
		req := chargeRequest("order-4-1", "5.00")
		req.PaymentMethodID = "decline-card"

		_, err := uc.Capture(ctx, req)

		assert.ErrorIs(t, err, ErrDeclined)
		repo.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything)
	})

	t.Run("invalid requests", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())
		cases := map[string]func(*ChargeRequest){
			"zero amount":     func(r *ChargeRequest) { r.Amount = decimal.Zero },
			"negative amount": func(r *ChargeRequest) { r.Amount = decimal.NewFromInt(-1) },
			"missing key":     func(r *ChargeRequest) { r.IdempotencyKey = "" },
			"missing method":  func(r *ChargeRequest) { r.PaymentMethodID = "" },
			"bad currency":    func(r *ChargeRequest) { r.Currency = "dollars" },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				req := chargeRequest("order-5-1", "5.00")
				mutate(&req)

				_, err := uc.Capture(ctx, req)

				assert.ErrorIs(t, err, ErrInvalidCharge)
			})
		}
	})

	t.Run("repository errors propagate", func(t *testing.T) {
		repo := new(MockChargeRepository)
		boom := errors.New("connection reset")
		repo.On("Capture", mock.Anything, mock.MatchedBy(func(c *Charge) bool {
			return c.IdempotencyKey == "order-6-1"
		})).Return(nil, boom)
		uc := NewPaymentUseCase(repo)

		_, err := uc.Capture(ctx, chargeRequest("order-6-1", "5.00"))

		assert.ErrorIs(t, err, boom)
		repo.AssertExpectations(t)
	})
}

func TestPaymentUseCase_Refund(t *testing.T) {
	ctx := context.Background()

	t.Run("zero amount refunds the whole charge once", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())
		charge, err := uc.Capture(ctx, chargeRequest("order-7-1", "12.50"))
		require.NoError(t, err)

		refunded, err := uc.Refund(ctx, charge.ID, decimal.Zero)
		require.NoError(t, err)
		again, err := uc.Refund(ctx, charge.ID, decimal.RequireFromString("1.00"))

		require.NoError(t, err)
		assert.Equal(t, ChargeStatusRefunded, refunded.Status)
		assert.True(t, again.RefundedAmount.Equal(decimal.RequireFromString("12.50")))
	})

	t.Run("refund larger than the charge is rejected", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())
		charge, err := uc.Capture(ctx, chargeRequest("order-8-1", "3.00"))
		require.NoError(t, err)

		_, err = uc.Refund(ctx, charge.ID, decimal.RequireFromString("3.01"))

		assert.ErrorIs(t, err, ErrInvalidCharge)
	})

	t.Run("unknown charge", func(t *testing.T) {
		uc := NewPaymentUseCase(NewMemoryChargeRepository())

		_, err := uc.Refund(ctx, "ch_missing", decimal.Zero)

		assert.ErrorIs(t, err, ErrChargeNotFound)
	})
}
