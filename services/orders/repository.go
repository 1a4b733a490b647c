package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository define a interface para operações de banco de dados do serviço de pedidos
type Repository interface {
	// GetOpenCart returns the owner's OPEN cart or ErrNotFound.
	GetOpenCart(ctx context.Context, ownerID string) (*Cart, error)
	GetCart(ctx context.Context, cartID string) (*Cart, error)
	SaveCart(ctx context.Context, cart *Cart) error
	ListIdleCarts(ctx context.Context, updatedBefore time.Time) ([]Cart, error)

	// CreateOrder inserts a DRAFT order with its saga record. A duplicate
	// (owner, idempotency key) yields ErrConflict.
	CreateOrder(ctx context.Context, order *Order, record *SagaRecord) error
	// SaveOrder persists the order state together with the saga progress.
	SaveOrder(ctx context.Context, order *Order, record *SagaRecord) error
	// ConfirmOrder is the single local transaction of the saga: the order,
	// its lines and snapshots, and the cart checkout are written atomically.
	ConfirmOrder(ctx context.Context, order *Order, record *SagaRecord, cart *Cart) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, ownerID, key string) (*Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)

	SavePaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error
	ListPaymentAttempts(ctx context.Context, orderID string) ([]PaymentAttempt, error)

	GetSagaRecord(ctx context.Context, orderID string) (*SagaRecord, error)
	ListUnfinishedSagas(ctx context.Context, updatedBefore time.Time) ([]SagaRecord, error)
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}

const cartColumns = `id, owner_id, status, version, created_at, updated_at`

func (r *PostgresRepository) GetOpenCart(ctx context.Context, ownerID string) (*Cart, error) {
	return r.loadCart(ctx, r.db, `SELECT `+cartColumns+` FROM carts WHERE owner_id = $1 AND status = 'OPEN'`, ownerID)
}

func (r *PostgresRepository) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	return r.loadCart(ctx, r.db, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID)
}

func (r *PostgresRepository) loadCart(ctx context.Context, q querier, sql string, arg string) (*Cart, error) {
	var c Cart
	err := q.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.OwnerID, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, cart_id, product_id, quantity, created_at
		FROM cart_items WHERE cart_id = $1
		ORDER BY position
	`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c.Items = []CartItem{}
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.CreatedAt); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (r *PostgresRepository) SaveCart(ctx context.Context, cart *Cart) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return saveCart(ctx, tx, cart)
	})
}

func saveCart(ctx context.Context, tx pgx.Tx, cart *Cart) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO carts (id, owner_id, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`, cart.ID, cart.OwnerID, cart.Status, cart.Version, cart.CreatedAt, cart.UpdatedAt); err != nil {
		return mapPgError(err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return err
	}
	for i, it := range cart.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cart_items (id, cart_id, product_id, quantity, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, it.ID, cart.ID, it.ProductID, it.Quantity, i, it.CreatedAt); err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListIdleCarts(ctx context.Context, updatedBefore time.Time) ([]Cart, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+cartColumns+` FROM carts
		WHERE status = 'OPEN' AND updated_at < $1
	`, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cart
	for rows.Next() {
		var c Cart
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Status, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order *Order, record *SagaRecord) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		billing, shipping, err := marshalAddresses(order)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO orders (id, owner_id, cart_id, status, billing_address, shipping_address,
			                    payment_method_id, currency, failure_step, failure_reason,
			                    reconciliation_required, idempotency_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, order.ID, order.OwnerID, order.CartID, order.Status, billing, shipping,
			order.PaymentMethodID, order.Currency, order.FailureStep, order.FailureReason,
			order.ReconciliationRequired, order.IdempotencyKey, order.CreatedAt, order.UpdatedAt); err != nil {
			return mapPgError(err)
		}
		return saveSagaRecord(ctx, tx, record)
	})
}

func (r *PostgresRepository) SaveOrder(ctx context.Context, order *Order, record *SagaRecord) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		return saveSagaRecord(ctx, tx, record)
	})
}

func (r *PostgresRepository) ConfirmOrder(ctx context.Context, order *Order, record *SagaRecord, cart *Cart) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := saveOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := saveSagaRecord(ctx, tx, record); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE carts SET status = $2, version = $3, updated_at = $4
			WHERE id = $1 AND status = 'OPEN'
		`, cart.ID, cart.Status, cart.Version, cart.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("cart %s is no longer open: %w", cart.ID, ErrConflict)
		}
		return nil
	})
}

func saveOrder(ctx context.Context, tx pgx.Tx, order *Order) error {
	billing, shipping, err := marshalAddresses(order)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, billing_address = $3, shipping_address = $4, failure_step = $5,
		    failure_reason = $6, reconciliation_required = $7, updated_at = $8
		WHERE id = $1
	`, order.ID, order.Status, billing, shipping, order.FailureStep, order.FailureReason,
		order.ReconciliationRequired, order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
		return err
	}
	for i, l := range order.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines (order_id, line_no, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)
		`, order.ID, i, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice.String()); err != nil {
			return err
		}
	}
	return nil
}

func marshalAddresses(order *Order) ([]byte, []byte, error) {
	var billing, shipping []byte
	var err error
	if order.BillingAddress != nil {
		if billing, err = json.Marshal(order.BillingAddress); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal billing address: %w", err)
		}
	}
	if order.ShippingAddress != nil {
		if shipping, err = json.Marshal(order.ShippingAddress); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal shipping address: %w", err)
		}
	}
	return billing, shipping, nil
}

const orderColumns = `id, owner_id, cart_id, status, billing_address, shipping_address, payment_method_id,
	currency, failure_step, failure_reason, reconciliation_required, idempotency_key, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var billing, shipping []byte
	if err := row.Scan(&o.ID, &o.OwnerID, &o.CartID, &o.Status, &billing, &shipping, &o.PaymentMethodID,
		&o.Currency, &o.FailureStep, &o.FailureReason, &o.ReconciliationRequired, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, mapPgError(err)
	}
	if len(billing) > 0 {
		o.BillingAddress = &AddressSnapshot{}
		if err := json.Unmarshal(billing, o.BillingAddress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal billing address: %w", err)
		}
	}
	if len(shipping) > 0 {
		o.ShippingAddress = &AddressSnapshot{}
		if err := json.Unmarshal(shipping, o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shipping address: %w", err)
		}
	}
	o.Lines = []OrderLine{}
	return &o, nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) GetOrderByIdempotencyKey(ctx context.Context, ownerID, key string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 AND idempotency_key = $2
	`, ownerID, key))
	if err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) ListOrdersByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (r *PostgresRepository) ListOrders(ctx context.Context) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *PostgresRepository) listOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *PostgresRepository) attachLines(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price::text
		FROM order_lines WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, price string
		var l OrderLine
		if err := rows.Scan(&orderID, &l.ProductID, &l.ProductName, &l.Quantity, &price); err != nil {
			return err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("invalid unit price %q: %w", price, err)
		}
		byID[orderID].Lines = append(byID[orderID].Lines, l)
	}
	return rows.Err()
}

func (r *PostgresRepository) SavePaymentAttempt(ctx context.Context, a *PaymentAttempt) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_attempts (order_id, attempt_no, amount, currency, outcome, charge_ref,
		                              idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id, attempt_no) DO UPDATE
		SET outcome = EXCLUDED.outcome, charge_ref = EXCLUDED.charge_ref, updated_at = EXCLUDED.updated_at
	`, a.OrderID, a.Number, a.Amount.String(), a.Currency, a.Outcome, a.ChargeRef,
		a.IdempotencyKey, a.CreatedAt, a.UpdatedAt)
	return mapPgError(err)
}

func (r *PostgresRepository) ListPaymentAttempts(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_id, attempt_no, amount::text, currency, outcome, charge_ref, idempotency_key,
		       created_at, updated_at
		FROM payment_attempts WHERE order_id = $1
		ORDER BY attempt_no
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentAttempt
	for rows.Next() {
		var a PaymentAttempt
		var amount string
		if err := rows.Scan(&a.OrderID, &a.Number, &amount, &a.Currency, &a.Outcome, &a.ChargeRef,
			&a.IdempotencyKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid payment amount %q: %w", amount, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func saveSagaRecord(ctx context.Context, tx pgx.Tx, rec *SagaRecord) error {
	steps, err := json.Marshal(rec.Completed)
	if err != nil {
		return fmt.Errorf("failed to marshal saga steps: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO saga_records (order_id, current_step, completed_steps, terminal, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE
		SET current_step = EXCLUDED.current_step, completed_steps = EXCLUDED.completed_steps,
		    terminal = EXCLUDED.terminal, updated_at = EXCLUDED.updated_at
	`, rec.OrderID, rec.Current, steps, rec.Terminal, rec.UpdatedAt)
	return err
}

func scanSagaRecord(row pgx.Row) (*SagaRecord, error) {
	var rec SagaRecord
	var steps []byte
	if err := row.Scan(&rec.OrderID, &rec.Current, &steps, &rec.Terminal, &rec.UpdatedAt); err != nil {
		return nil, mapPgError(err)
	}
	if err := json.Unmarshal(steps, &rec.Completed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal saga steps: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) GetSagaRecord(ctx context.Context, orderID string) (*SagaRecord, error) {
	return scanSagaRecord(r.db.QueryRow(ctx, `
		SELECT order_id, current_step, completed_steps, terminal, updated_at
		FROM saga_records WHERE order_id = $1
	`, orderID))
}

func (r *PostgresRepository) ListUnfinishedSagas(ctx context.Context, updatedBefore time.Time) ([]SagaRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_id, current_step, completed_steps, terminal, updated_at
		FROM saga_records WHERE NOT terminal AND updated_at < $1
		ORDER BY updated_at
		LIMIT 100
	`, updatedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SagaRecord
	for rows.Next() {
		rec, err := scanSagaRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
