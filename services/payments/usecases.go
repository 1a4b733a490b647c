package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// declinePrefix marks sandbox payment methods the gateway refuses.
const declinePrefix = "decline"

// PaymentUseCase contém a lógica de negócio de pagamentos
type PaymentUseCase struct {
	repository    ChargeRepository
	chargeCounter metric.Int64Counter
	refundCounter metric.Int64Counter
}

// NewPaymentUseCase cria uma nova instância de PaymentUseCase
func NewPaymentUseCase(repository ChargeRepository) *PaymentUseCase {
	meter := otel.Meter("payments-service")
	chargeCounter, err := meter.Int64Counter("payments.charges", metric.WithDescription("Charge requests by outcome"))
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to create charge counter")
	}
	refundCounter, err := meter.Int64Counter("payments.refunds", metric.WithDescription("Refunds applied"))
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Failed to create refund counter")
	}
	return &PaymentUseCase{
		repository:    repository,
		chargeCounter: chargeCounter,
		refundCounter: refundCounter,
	}
}

func (uc *PaymentUseCase) countCharge(ctx context.Context, outcome string) {
	if uc.chargeCounter != nil {
		uc.chargeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func validateCharge(req ChargeRequest) error {
	switch {
	case req.IdempotencyKey == "":
		return fmt.Errorf("idempotency key is required: %w", ErrInvalidCharge)
	case req.PaymentMethodID == "":
		return fmt.Errorf("payment method is required: %w", ErrInvalidCharge)
	case !req.Amount.IsPositive():
		return fmt.Errorf("amount must be positive, got %s: %w", req.Amount, ErrInvalidCharge)
	case len(req.Currency) != 3:
		return fmt.Errorf("currency must be an ISO 4217 code, got %q: %w", req.Currency, ErrInvalidCharge)
	}
	return nil
}

// Capture authorizes and captures in one step. A repeated idempotency key
// answers with the charge it first produced.
func (uc *PaymentUseCase) Capture(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := validateCharge(req); err != nil {
		uc.countCharge(ctx, "invalid")
		return nil, err
	}
	logger := log.With().Str("idempotency_key", req.IdempotencyKey).Logger()

	if strings.HasPrefix(req.PaymentMethodID, declinePrefix) {
		uc.countCharge(ctx, "declined")
		logger.Info().Str("payment_method_id", req.PaymentMethodID).Msg("❌ [CHARGE] Declined")
		return nil, fmt.Errorf("payment method %s: %w", req.PaymentMethodID, ErrDeclined)
	}

	currency := strings.ToUpper(req.Currency)
	charge, err := uc.repository.Capture(ctx, NewCharge(req.IdempotencyKey, req.PaymentMethodID, req.Amount, currency))
	if err != nil {
		uc.countCharge(ctx, "error")
		logger.Error().Err(err).Msg("❌ [CHARGE] Failed to capture")
		return nil, err
	}
	if !charge.sameRequest(req.PaymentMethodID, req.Amount, currency) {
		uc.countCharge(ctx, "mismatch")
		return nil, fmt.Errorf("charge %s: %w", charge.ID, ErrIdempotencyMismatch)
	}

	uc.countCharge(ctx, "captured")
	logger.Info().Str("charge_id", charge.ID).Str("amount", charge.Amount.String()).Msg("✅ [CHARGE] Captured")
	return charge, nil
}

// Refund returns up to the captured amount. Refunding twice is a no-op.
func (uc *PaymentUseCase) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Charge, error) {
	charge, err := uc.repository.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		amount = charge.Amount
	}
	if amount.IsNegative() || amount.GreaterThan(charge.Amount) {
		return nil, fmt.Errorf("refund of %s exceeds charge %s of %s: %w", amount, chargeID, charge.Amount, ErrInvalidCharge)
	}

	refunded, err := uc.repository.Refund(ctx, chargeID, amount)
	if err != nil {
		log.Error().Err(err).Str("charge_id", chargeID).Msg("❌ [REFUND] Failed")
		return nil, err
	}
	if uc.refundCounter != nil {
		uc.refundCounter.Add(ctx, 1)
	}
	log.Info().Str("charge_id", chargeID).Str("amount", amount.String()).Msg("↩️ [REFUND] Applied")
	return refunded, nil
}

func (uc *PaymentUseCase) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	return uc.repository.GetCharge(ctx, chargeID)
}
