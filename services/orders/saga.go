package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// OrderRequest is what a customer submits to preview or place an order.
type OrderRequest struct {
	BillingAddressID  string
	ShippingAddressID string
	PaymentMethodID   string
	IdempotencyKey    string
}

func (r OrderRequest) validate(needPayment bool) error {
	var missing []string
	if r.BillingAddressID == "" {
		missing = append(missing, "billingAddressId")
	}
	if r.ShippingAddressID == "" {
		missing = append(missing, "shippingAddressId")
	}
	if needPayment && r.PaymentMethodID == "" {
		missing = append(missing, "paymentMethodId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields %v: %w", missing, ErrInvalidArgument)
	}
	return nil
}

// OrderPreview is a priced and addressed order that was never persisted.
type OrderPreview struct {
	Lines           []OrderLine     `json:"orderItems"`
	Total           decimal.Decimal `json:"totalPrice"`
	Currency        string          `json:"currency"`
	BillingAddress  AddressSnapshot `json:"billingAddress"`
	ShippingAddress AddressSnapshot `json:"shippingAddress"`
}

// SagaExecutor drives an order from DRAFT to a terminal status and undoes
// completed steps when a later one fails.
type SagaExecutor struct {
	repository Repository
	carts      *CartStore
	quotes     QuoteClient
	addresses  AddressClient
	payments   PaymentClient
	ledger     IdempotencyLedger
	locker     OrderLocker
	policies   RetryPolicies
	metrics    *sagaMetrics
	currency   string
}

func NewSagaExecutor(
	repository Repository,
	carts *CartStore,
	quotes QuoteClient,
	addresses AddressClient,
	payments PaymentClient,
	ledger IdempotencyLedger,
	locker OrderLocker,
	policies RetryPolicies,
	metrics *sagaMetrics,
	currency string,
) *SagaExecutor {
	return &SagaExecutor{
		repository: repository,
		carts:      carts,
		quotes:     quotes,
		addresses:  addresses,
		payments:   payments,
		ledger:     ledger,
		locker:     locker,
		policies:   policies,
		metrics:    metrics,
		currency:   currency,
	}
}

func sagaLogger(ctx context.Context, order *Order) zerolog.Logger {
	return log.With().
		Str("order_id", order.ID).
		Str("user_id", order.OwnerID).
		Str("trace_id", traceID(ctx)).
		Logger()
}

// Preview prices and addresses the caller's cart without side effects.
func (s *SagaExecutor) Preview(ctx context.Context, id Identity, req OrderRequest) (*OrderPreview, error) {
	if err := req.validate(false); err != nil {
		return nil, err
	}
	cart, err := s.snapshotCart(ctx, id)
	if err != nil {
		return nil, err
	}

	order := NewOrder(uuid.New().String(), id.UserID, cart.ID, req.PaymentMethodID, s.currency, "")
	if err := s.price(ctx, order, cart); err != nil {
		return nil, err
	}
	if err := s.address(ctx, order, req); err != nil {
		return nil, err
	}

	return &OrderPreview{
		Lines:           order.Lines,
		Total:           order.Total(),
		Currency:        order.Currency,
		BillingAddress:  *order.BillingAddress,
		ShippingAddress: *order.ShippingAddress,
	}, nil
}

func (s *SagaExecutor) snapshotCart(ctx context.Context, id Identity) (*Cart, error) {
	cart, err := s.carts.Snapshot(ctx, id.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("no open cart: %w", ErrInvalidArgument)
	}
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("cart %s is empty: %w", cart.ID, ErrInvalidArgument)
	}
	return cart, nil
}

// CreateOrder runs the whole saga. The returned error is a *SagaError when the
// order ended CANCELLED; the order is returned alongside it.
func (s *SagaExecutor) CreateOrder(ctx context.Context, id Identity, req OrderRequest) (*Order, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	orderID := uuid.New().String()
	entry, reserved, err := s.ledger.Reserve(ctx, id.UserID, req.IdempotencyKey, orderID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if entry.State == LedgerCompleted {
			return s.replay(ctx, entry.OrderID)
		}
		return nil, fmt.Errorf("order %s for this idempotency key is in progress: %w", entry.OrderID, ErrConflict)
	}

	// Ledger entries expire; the unique (owner, key) row is the durable record.
	if existing, err := s.repository.GetOrderByIdempotencyKey(ctx, id.UserID, req.IdempotencyKey); err == nil {
		_ = s.ledger.Release(ctx, id.UserID, req.IdempotencyKey)
		if !existing.Status.IsTerminal() {
			return nil, fmt.Errorf("order %s for this idempotency key is in progress: %w", existing.ID, ErrConflict)
		}
		return s.replay(ctx, existing.ID)
	} else if !errors.Is(err, ErrNotFound) {
		_ = s.ledger.Release(ctx, id.UserID, req.IdempotencyKey)
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		_ = s.ledger.Release(ctx, id.UserID, req.IdempotencyKey)
		return nil, err
	}
	defer unlock()

	cart, err := s.snapshotCart(ctx, id)
	if err != nil {
		_ = s.ledger.Release(ctx, id.UserID, req.IdempotencyKey)
		return nil, err
	}

	order := NewOrder(orderID, id.UserID, cart.ID, req.PaymentMethodID, s.currency, req.IdempotencyKey)
	rec := NewSagaRecord(orderID)
	if err := s.repository.CreateOrder(ctx, order, rec); err != nil {
		_ = s.ledger.Release(ctx, id.UserID, req.IdempotencyKey)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	logger := sagaLogger(ctx, order)
	logger.Info().Str("cart_id", cart.ID).Int("items", len(cart.Items)).Msg("🚀 Starting order saga")
	s.metrics.sagaStarted(ctx)

	err = s.run(ctx, order, rec, cart, req)
	s.completeLedger(order)
	return order, err
}

func (s *SagaExecutor) completeLedger(order *Order) {
	if !order.Status.IsTerminal() {
		return
	}
	if err := s.ledger.Complete(context.Background(), order.OwnerID, order.IdempotencyKey, order.ID); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("⚠️ Failed to complete idempotency key")
	}
}

// replay answers a repeated request with the first request's outcome.
func (s *SagaExecutor) replay(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("order_id", order.ID).Str("status", order.Status.String()).Msg("🔁 Replaying order for repeated idempotency key")
	if order.Status == OrderStatusCancelled {
		return order, &SagaError{
			Step:    order.FailureStep,
			OrderID: order.ID,
			Status:  order.Status,
			Err:     errors.New(order.FailureReason),
		}
	}
	return order, nil
}

func (s *SagaExecutor) run(ctx context.Context, order *Order, rec *SagaRecord, cart *Cart, req OrderRequest) error {
	if err := s.price(ctx, order, cart); err != nil {
		return s.failed(ctx, order, rec, err)
	}
	if err := s.advance(ctx, order, rec, StepPricing); err != nil {
		return err
	}

	if err := s.address(ctx, order, req); err != nil {
		return s.failed(ctx, order, rec, err)
	}
	if err := s.advance(ctx, order, rec, StepAddress); err != nil {
		return err
	}

	// A dispatched capture is never abandoned because the caller went away.
	ctx = context.WithoutCancel(ctx)

	attempt, err := s.startPayment(ctx, order, rec)
	if err != nil {
		return err
	}
	return s.capture(ctx, order, rec, attempt)
}

// failed persists a step failure and compensates. A failure to persist is
// returned as is and left for the recovery worker.
func (s *SagaExecutor) failed(ctx context.Context, order *Order, rec *SagaRecord, cause error) error {
	ctx = context.WithoutCancel(ctx)
	rec.Current = order.Status
	if err := s.save(ctx, order, rec); err != nil {
		return err
	}
	return s.compensate(ctx, order, rec, cause)
}

func (s *SagaExecutor) advance(ctx context.Context, order *Order, rec *SagaRecord, step SagaStep) error {
	rec.Current = order.Status
	rec.complete(CompletedStep{Step: step})
	return s.save(ctx, order, rec)
}

func (s *SagaExecutor) save(ctx context.Context, order *Order, rec *SagaRecord) error {
	rec.UpdatedAt = order.UpdatedAt
	if err := s.repository.SaveOrder(ctx, order, rec); err != nil {
		logger := sagaLogger(ctx, order)
		logger.Error().Err(err).Str("status", order.Status.String()).Msg("❌ Failed to persist saga progress")
		return fmt.Errorf("failed to persist order %s at %s: %w", order.ID, order.Status, err)
	}
	return nil
}

// price moves the order to PRICED or PRICING_FAILED.
func (s *SagaExecutor) price(ctx context.Context, order *Order, cart *Cart) error {
	ctx, span := startStepSpan(ctx, string(StepPricing), order.ID)
	defer span.End()
	logger := sagaLogger(ctx, order)
	logger.Info().Str("step", string(StepPricing)).Msg("➡️ [PRICING] Fetching quotes")

	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		ids = append(ids, it.ProductID)
	}

	quotes, err := Retry(ctx, s.policies.Quote, func(ctx context.Context) (map[string]PriceQuote, error) {
		return s.quotes.Quote(ctx, ids)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog unavailable")
		if failErr := order.Fail(StepPricing, "catalog unavailable"); failErr != nil {
			return failErr
		}
		logger.Warn().Err(err).Msg("❌ [PRICING] Catalog unavailable")
		return &SagaError{Step: StepPricing, OrderID: order.ID, Status: order.Status, Err: err}
	}

	offending, err := order.Price(cart.Items, quotes)
	if err != nil {
		return err
	}
	if len(offending) > 0 {
		span.SetStatus(codes.Error, "pricing failed")
		logger.Warn().Strs("products", offending).Msg("❌ [PRICING] Products unavailable")
		return &SagaError{
			Step:     StepPricing,
			OrderID:  order.ID,
			Status:   order.Status,
			Products: offending,
			Err:      errors.New(order.FailureReason),
		}
	}

	logger.Info().Str("total", order.Total().String()).Msg("✅ [PRICING] Order priced")
	return nil
}

// address resolves billing and shipping concurrently.
func (s *SagaExecutor) address(ctx context.Context, order *Order, req OrderRequest) error {
	ctx, span := startStepSpan(ctx, string(StepAddress), order.ID)
	defer span.End()
	logger := sagaLogger(ctx, order)
	logger.Info().Str("step", string(StepAddress)).Msg("➡️ [ADDRESS] Resolving addresses")

	resolve := func(ctx context.Context, addressID string) (AddressSnapshot, error) {
		return Retry(ctx, s.policies.Address, func(ctx context.Context) (AddressSnapshot, error) {
			return s.addresses.Resolve(ctx, order.OwnerID, addressID)
		})
	}

	var billing, shipping AddressSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if billing, err = resolve(gctx, req.BillingAddressID); err != nil {
			return fmt.Errorf("billing address: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if shipping, err = resolve(gctx, req.ShippingAddressID); err != nil {
			return fmt.Errorf("shipping address: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "address resolution failed")
		if failErr := order.Fail(StepAddress, addressFailureReason(err)); failErr != nil {
			return failErr
		}
		logger.Warn().Err(err).Msg("❌ [ADDRESS] Address resolution failed")
		return &SagaError{Step: StepAddress, OrderID: order.ID, Status: order.Status, Err: err}
	}

	if err := order.Address(billing, shipping); err != nil {
		return err
	}
	logger.Info().Msg("✅ [ADDRESS] Addresses resolved")
	return nil
}

// addressFailureReason is the customer-facing reason; collaborator errors
// only go to the log.
func addressFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "address not found"
	case IsTransient(err):
		return "billing service unavailable"
	default:
		return "address resolution failed"
	}
}

// startPayment records the attempt before the capture is dispatched so a
// crash leaves a PENDING attempt for recovery.
func (s *SagaExecutor) startPayment(ctx context.Context, order *Order, rec *SagaRecord) (*PaymentAttempt, error) {
	attempt := &PaymentAttempt{
		OrderID:        order.ID,
		Number:         1,
		Amount:         order.Total(),
		Currency:       order.Currency,
		Outcome:        PaymentPending,
		IdempotencyKey: PaymentIdempotencyKey(order.ID, 1),
		CreatedAt:      order.UpdatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	if err := s.repository.SavePaymentAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}
	if err := order.MarkPaymentPending(); err != nil {
		return nil, err
	}
	rec.Current = order.Status
	if err := s.save(ctx, order, rec); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *SagaExecutor) capture(ctx context.Context, order *Order, rec *SagaRecord, attempt *PaymentAttempt) error {
	spanCtx, span := startStepSpan(ctx, string(StepPayment), order.ID)
	logger := sagaLogger(spanCtx, order)
	logger.Info().
		Str("step", string(StepPayment)).
		Str("amount", attempt.Amount.String()).
		Str("idempotency_key", attempt.IdempotencyKey).
		Msg("➡️ [PAYMENT] Capturing payment")

	// Every retry carries the attempt's idempotency key unchanged.
	res, err := Retry(spanCtx, s.policies.Payment, func(ctx context.Context) (ChargeResult, error) {
		return s.payments.AuthorizeAndCapture(ctx, attempt.Amount, attempt.Currency, order.PaymentMethodID, attempt.IdempotencyKey)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment failed")
		span.End()

		attempt.Outcome = PaymentFailed
		attempt.UpdatedAt = order.UpdatedAt
		reason := "payment declined"
		if IsTransient(err) {
			// The gateway may have captured without us hearing back.
			order.ReconciliationRequired = true
			reason = "payment outcome unknown after retries"
			logger.Error().Err(err).Bool("alert", true).Msg("❌ [PAYMENT] Capture outcome unknown, reconciliation required")
		} else {
			logger.Warn().Err(err).Msg("❌ [PAYMENT] Payment failed")
			if !errors.Is(err, ErrDeclined) {
				reason = "payment rejected"
			}
		}
		if saveErr := s.repository.SavePaymentAttempt(ctx, attempt); saveErr != nil {
			return fmt.Errorf("failed to record payment attempt: %w", saveErr)
		}
		if failErr := order.Fail(StepPayment, reason); failErr != nil {
			return failErr
		}
		return s.failed(ctx, order, rec, &SagaError{Step: StepPayment, OrderID: order.ID, Status: order.Status, Err: err})
	}
	span.End()

	attempt.Outcome = res.Outcome
	attempt.ChargeRef = res.ChargeRef
	if err := s.repository.SavePaymentAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record payment attempt: %w", err)
	}
	if err := order.MarkPaid(); err != nil {
		return err
	}
	rec.Current = order.Status
	rec.complete(CompletedStep{Step: StepPayment, ChargeRef: res.ChargeRef, Amount: attempt.Amount})
	if err := s.save(ctx, order, rec); err != nil {
		return err
	}
	logger.Info().Str("charge_ref", res.ChargeRef).Msg("✅ [PAYMENT] Payment captured")

	return s.confirm(ctx, order, rec)
}

// confirm is the single local transaction: order CONFIRMED and cart
// CHECKED_OUT. When it cannot be written the payment is refunded.
func (s *SagaExecutor) confirm(ctx context.Context, order *Order, rec *SagaRecord) error {
	ctx, span := startStepSpan(ctx, string(StepConfirmation), order.ID)
	defer span.End()
	logger := sagaLogger(ctx, order)

	attempts, err := s.repository.ListPaymentAttempts(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load payment attempts: %w", err)
	}

	err = s.carts.CheckOut(ctx, order.OwnerID, order.CartID, func(cart *Cart) error {
		confirmed := order.clone()
		if err := confirmed.Confirm(attempts); err != nil {
			return err
		}
		next := rec.clone()
		next.Current = confirmed.Status
		next.Terminal = true
		next.UpdatedAt = confirmed.UpdatedAt
		next.complete(CompletedStep{Step: StepConfirmation})
		if err := s.repository.ConfirmOrder(ctx, confirmed, next, cart); err != nil {
			return err
		}
		*order, *rec = *confirmed, *next
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		logger.Error().Err(err).Msg("❌ [CONFIRM] Failed to confirm order, compensating")
		if failErr := order.Fail(StepConfirmation, "order could not be confirmed"); failErr != nil {
			return failErr
		}
		return s.failed(ctx, order, rec, &SagaError{Step: StepConfirmation, OrderID: order.ID, Status: order.Status, Err: err})
	}

	s.metrics.sagaFinished(ctx, order.Status)
	logger.Info().Str("total", order.Total().String()).Msg("🎉 Order confirmed")
	return nil
}

// compensate undoes completed steps in reverse order and cancels the order.
// A compensation that cannot be applied flags the order for reconciliation
// and never keeps it from reaching CANCELLED.
func (s *SagaExecutor) compensate(ctx context.Context, order *Order, rec *SagaRecord, cause error) error {
	ctx, span := startStepSpan(ctx, "compensation", order.ID)
	defer span.End()
	logger := sagaLogger(ctx, order)
	logger.Info().Str("failure_step", string(order.FailureStep)).Msg("↩️ [COMPENSATE] Starting compensation")

	if err := order.StartCompensation(); err != nil {
		return err
	}
	rec.Current = order.Status
	if err := s.save(ctx, order, rec); err != nil {
		return err
	}

	var compErr error
	for i := len(rec.Completed) - 1; i >= 0; i-- {
		step := &rec.Completed[i]
		if step.Compensated {
			continue
		}
		// Pricing and address hold nothing to release.
		if step.Step == StepPayment {
			if err := s.refund(ctx, order, step); err != nil {
				span.RecordError(err)
				compErr = errors.Join(compErr, err)
				order.ReconciliationRequired = true
				s.metrics.compensationFailure(ctx, step.Step)
				logger.Error().Err(err).Bool("alert", true).Str("charge_ref", step.ChargeRef).
					Msg("🚨 [COMPENSATE] Refund failed, reconciliation required")
				continue
			}
		}
		step.Compensated = true
	}

	if err := order.Cancel(); err != nil {
		return err
	}
	rec.Current = order.Status
	rec.Terminal = true
	if err := s.save(ctx, order, rec); err != nil {
		return err
	}
	s.metrics.sagaFinished(ctx, order.Status)
	logger.Info().Bool("reconciliation_required", order.ReconciliationRequired).Msg("♻️ Order cancelled")

	var sagaErr *SagaError
	if !errors.As(cause, &sagaErr) {
		sagaErr = &SagaError{Step: order.FailureStep, OrderID: order.ID, Err: cause}
	}
	sagaErr.Status = order.Status
	if compErr != nil {
		sagaErr.Err = errors.Join(sagaErr.Err, fmt.Errorf("%w: %w", ErrCompensationFailed, compErr))
	}
	return sagaErr
}

func (s *SagaExecutor) refund(ctx context.Context, order *Order, step *CompletedStep) error {
	_, err := Retry(ctx, s.policies.Refund, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.payments.Refund(ctx, step.ChargeRef, step.Amount)
	})
	if err != nil {
		return fmt.Errorf("refund %s: %w", step.ChargeRef, err)
	}

	attempts, err := s.repository.ListPaymentAttempts(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load payment attempts: %w", err)
	}
	idx := slices.IndexFunc(attempts, func(a PaymentAttempt) bool { return a.ChargeRef == step.ChargeRef })
	if idx >= 0 {
		attempts[idx].Outcome = PaymentRefunded
		attempts[idx].UpdatedAt = order.UpdatedAt
		if err := s.repository.SavePaymentAttempt(ctx, &attempts[idx]); err != nil {
			return fmt.Errorf("failed to record refund: %w", err)
		}
	}
	logger := sagaLogger(ctx, order)
	logger.Info().Str("charge_ref", step.ChargeRef).Msg("↩️ [COMPENSATE] Payment refunded")
	return nil
}

// Resume continues a saga that stopped before reaching a terminal status. It
// returns ErrConflict when another process holds the order.
func (s *SagaExecutor) Resume(ctx context.Context, orderID string) error {
	unlock, ok, err := s.locker.TryLock(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s is locked: %w", orderID, ErrConflict)
	}
	defer unlock()

	order, err := s.repository.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	rec, err := s.repository.GetSagaRecord(ctx, orderID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	logger := sagaLogger(ctx, order)

	if order.Status.IsTerminal() {
		if !rec.Terminal {
			rec.Current = order.Status
			rec.Terminal = true
			if err := s.save(ctx, order, rec); err != nil {
				return err
			}
		}
		s.completeLedger(order)
		return nil
	}

	logger.Info().Str("status", order.Status.String()).Msg("🔧 Resuming interrupted saga")
	err = s.resume(ctx, order, rec)
	s.completeLedger(order)

	var sagaErr *SagaError
	if errors.As(err, &sagaErr) {
		// The saga reached CANCELLED; that is a finished recovery.
		return nil
	}
	return err
}

func (s *SagaExecutor) resume(ctx context.Context, order *Order, rec *SagaRecord) error {
	interrupted := errors.New("saga interrupted before payment")
	switch order.Status {
	case OrderStatusDraft:
		// Quotes are not durable; the order cannot be priced again on its behalf.
		if err := order.Fail(StepPricing, "saga interrupted during pricing"); err != nil {
			return err
		}
		return s.failed(ctx, order, rec, interrupted)
	case OrderStatusPriced:
		if err := order.Fail(StepAddress, "saga interrupted during address resolution"); err != nil {
			return err
		}
		return s.failed(ctx, order, rec, interrupted)
	case OrderStatusAddressed:
		// No capture was dispatched: PAYMENT_PENDING is written before dispatch.
		if err := order.MarkPaymentPending(); err != nil {
			return err
		}
		if err := order.Fail(StepPayment, "saga interrupted before payment"); err != nil {
			return err
		}
		return s.failed(ctx, order, rec, interrupted)
	case OrderStatusPaymentPending:
		attempts, err := s.repository.ListPaymentAttempts(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			if err := order.Fail(StepPayment, "no payment attempt recorded"); err != nil {
				return err
			}
			return s.failed(ctx, order, rec, interrupted)
		}
		// Same idempotency key: the gateway answers with the original outcome.
		attempt := attempts[len(attempts)-1]
		return s.capture(ctx, order, rec, &attempt)
	case OrderStatusPaid:
		return s.confirm(ctx, order, rec)
	case OrderStatusPricingFailed, OrderStatusAddressFailed, OrderStatusPaymentFailed, OrderStatusCompensating:
		return s.compensate(ctx, order, rec, errors.New(order.FailureReason))
	default:
		return fmt.Errorf("cannot resume order in status %s: %w", order.Status, ErrIllegalTransition)
	}
}
