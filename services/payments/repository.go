package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/shopspring/decimal"
)

// Branch barrier coordinates. Every capture is its own saga branch keyed by
// the caller's idempotency key.
const (
	barrierTransType  = "saga"
	barrierBranchID   = "01"
	barrierOpCapture  = "action"
	barrierOpRefund   = "compensate"
	chargeSelectQuery = `
		SELECT id, idempotency_key, payment_method_id, amount, refunded_amount, currency, status, created_at, updated_at
		FROM charges`
)

// ChargeRepository define a interface para operações de banco de dados de cobranças
type ChargeRepository interface {
	// Capture stores charge unless its idempotency key was seen before, and
	// returns the stored charge either way.
	Capture(ctx context.Context, charge *Charge) (*Charge, error)
	// Refund marks the charge refunded at most once.
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// PostgresChargeRepository guards captures and refunds with DTM branch
// barriers so repeated deliveries apply once.
type PostgresChargeRepository struct {
	db *sql.DB
}

// NewPostgresChargeRepository cria uma nova instância de PostgresChargeRepository
func NewPostgresChargeRepository(db *sql.DB) *PostgresChargeRepository {
	dtmcli.SetCurrentDBType(dtmcli.DBTypePostgres)
	return &PostgresChargeRepository{db: db}
}

func (r *PostgresChargeRepository) Capture(ctx context.Context, charge *Charge) (*Charge, error) {
	bb, err := dtmcli.BarrierFrom(barrierTransType, charge.IdempotencyKey, barrierBranchID, barrierOpCapture)
	if err != nil {
		return nil, fmt.Errorf("failed to build barrier: %w", err)
	}

	err = bb.CallWithDB(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO charges (id, idempotency_key, payment_method_id, amount, refunded_amount, currency, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, charge.ID, charge.IdempotencyKey, charge.PaymentMethodID, charge.Amount, charge.RefundedAmount,
			charge.Currency, charge.Status, charge.CreatedAt, charge.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture charge: %w", err)
	}

	return scanCharge(r.db.QueryRowContext(ctx, chargeSelectQuery+` WHERE idempotency_key = $1`, charge.IdempotencyKey))
}

func (r *PostgresChargeRepository) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Charge, error) {
	charge, err := r.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	bb, err := dtmcli.BarrierFrom(barrierTransType, charge.IdempotencyKey, barrierBranchID, barrierOpRefund)
	if err != nil {
		return nil, fmt.Errorf("failed to build barrier: %w", err)
	}

	err = bb.CallWithDB(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE charges
			SET status = $2, refunded_amount = $3, updated_at = NOW()
			WHERE id = $1
		`, chargeID, ChargeStatusRefunded, amount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund charge: %w", err)
	}

	return r.GetCharge(ctx, chargeID)
}

func (r *PostgresChargeRepository) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	return scanCharge(r.db.QueryRowContext(ctx, chargeSelectQuery+` WHERE id = $1`, chargeID))
}

func scanCharge(row *sql.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.IdempotencyKey, &c.PaymentMethodID, &c.Amount, &c.RefundedAmount,
		&c.Currency, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChargeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
