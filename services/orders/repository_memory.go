package main

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a Repository kept in process memory. It backs the
// service when no database is configured and is the repository used by tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	carts    map[string]*Cart
	orders   map[string]*Order
	attempts map[string][]PaymentAttempt
	sagas    map[string]*SagaRecord

	// confirmErr, when set, makes ConfirmOrder fail without writing.
	confirmErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts:    make(map[string]*Cart),
		orders:   make(map[string]*Order),
		attempts: make(map[string][]PaymentAttempt),
		sagas:    make(map[string]*SagaRecord),
	}
}

func (r *MemoryRepository) GetOpenCart(_ context.Context, ownerID string) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.carts {
		if c.OwnerID == ownerID && c.Status == CartStatusOpen {
			return c.clone(), nil
		}
	}
	return nil, fmt.Errorf("open cart for %s: %w", ownerID, ErrNotFound)
}

func (r *MemoryRepository) GetCart(_ context.Context, cartID string) (*Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[cartID]
	if !ok {
		return nil, fmt.Errorf("cart %s: %w", cartID, ErrNotFound)
	}
	return c.clone(), nil
}

func (r *MemoryRepository) SaveCart(_ context.Context, cart *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cart.Status == CartStatusOpen {
		for id, c := range r.carts {
			if id != cart.ID && c.OwnerID == cart.OwnerID && c.Status == CartStatusOpen {
				return fmt.Errorf("owner %s already has open cart %s: %w", cart.OwnerID, id, ErrConflict)
			}
		}
	}
	r.carts[cart.ID] = cart.clone()
	return nil
}

func (r *MemoryRepository) ListIdleCarts(_ context.Context, updatedBefore time.Time) ([]Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Cart
	for _, c := range r.carts {
		if c.Status == CartStatusOpen && c.UpdatedAt.Before(updatedBefore) {
			out = append(out, *c.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order *Order, record *SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrConflict)
	}
	for _, o := range r.orders {
		if o.OwnerID == order.OwnerID && o.IdempotencyKey == order.IdempotencyKey {
			return fmt.Errorf("idempotency key %s already used by order %s: %w", order.IdempotencyKey, o.ID, ErrConflict)
		}
	}
	r.orders[order.ID] = order.clone()
	r.sagas[record.OrderID] = record.clone()
	return nil
}

func (r *MemoryRepository) SaveOrder(_ context.Context, order *Order, record *SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	r.orders[order.ID] = order.clone()
	r.sagas[record.OrderID] = record.clone()
	return nil
}

func (r *MemoryRepository) ConfirmOrder(_ context.Context, order *Order, record *SagaRecord, cart *Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.confirmErr != nil {
		return r.confirmErr
	}
	if _, ok := r.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	stored, ok := r.carts[cart.ID]
	if !ok {
		return fmt.Errorf("cart %s: %w", cart.ID, ErrNotFound)
	}
	if stored.Status != CartStatusOpen {
		return fmt.Errorf("cart %s is no longer open: %w", cart.ID, ErrConflict)
	}
	r.orders[order.ID] = order.clone()
	r.sagas[record.OrderID] = record.clone()
	r.carts[cart.ID] = cart.clone()
	return nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, orderID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o.clone(), nil
}

func (r *MemoryRepository) GetOrderByIdempotencyKey(_ context.Context, ownerID, key string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.OwnerID == ownerID && o.IdempotencyKey == key {
			return o.clone(), nil
		}
	}
	return nil, fmt.Errorf("order with idempotency key %s: %w", key, ErrNotFound)
}

func (r *MemoryRepository) ListOrdersByOwner(_ context.Context, ownerID string) ([]Order, error) {
	return r.list(func(o *Order) bool { return o.OwnerID == ownerID }), nil
}

func (r *MemoryRepository) ListOrders(_ context.Context) ([]Order, error) {
	return r.list(func(*Order) bool { return true }), nil
}

func (r *MemoryRepository) list(keep func(*Order) bool) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Order{}
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, *o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) SavePaymentAttempt(_ context.Context, attempt *PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.attempts[attempt.OrderID]
	idx := slices.IndexFunc(list, func(a PaymentAttempt) bool { return a.Number == attempt.Number })
	if idx >= 0 {
		list[idx] = *attempt
	} else {
		list = append(list, *attempt)
	}
	r.attempts[attempt.OrderID] = list
	return nil
}

func (r *MemoryRepository) ListPaymentAttempts(_ context.Context, orderID string) ([]PaymentAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.attempts[orderID]), nil
}

func (r *MemoryRepository) GetSagaRecord(_ context.Context, orderID string) (*SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sagas[orderID]
	if !ok {
		return nil, fmt.Errorf("saga record %s: %w", orderID, ErrNotFound)
	}
	return rec.clone(), nil
}

func (r *MemoryRepository) ListUnfinishedSagas(_ context.Context, updatedBefore time.Time) ([]SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SagaRecord
	for _, rec := range r.sagas {
		if !rec.Terminal && rec.UpdatedAt.Before(updatedBefore) {
			out = append(out, *rec.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
