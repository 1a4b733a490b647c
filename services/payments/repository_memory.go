package main

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryChargeRepository keeps charges in process memory.
type MemoryChargeRepository struct {
	mu    sync.Mutex
	byID  map[string]*Charge
	byKey map[string]string
}

func NewMemoryChargeRepository() *MemoryChargeRepository {
	return &MemoryChargeRepository{
		byID:  make(map[string]*Charge),
		byKey: make(map[string]string),
	}
}

func (r *MemoryChargeRepository) Capture(_ context.Context, charge *Charge) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[charge.IdempotencyKey]; ok {
		cp := *r.byID[id]
		return &cp, nil
	}
	cp := *charge
	r.byID[cp.ID] = &cp
	r.byKey[cp.IdempotencyKey] = cp.ID
	out := cp
	return &out, nil
}

func (r *MemoryChargeRepository) Refund(_ context.Context, chargeID string, amount decimal.Decimal) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	if c.Status != ChargeStatusRefunded {
		c.Status = ChargeStatusRefunded
		c.RefundedAmount = amount
		c.UpdatedAt = time.Now().UTC()
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryChargeRepository) GetCharge(_ context.Context, chargeID string) (*Charge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[chargeID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}
