package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LedgerState is the lifecycle of an idempotency key.
type LedgerState string

const (
	LedgerInFlight  LedgerState = "IN_FLIGHT"
	LedgerCompleted LedgerState = "COMPLETED"
)

// LedgerEntry maps a caller's idempotency key to the order it created.
type LedgerEntry struct {
	OrderID string      `json:"orderId"`
	State   LedgerState `json:"state"`
}

// IdempotencyLedger deduplicates order creation per (scope, key). The scope is
// the caller's identity so keys never collide across customers.
type IdempotencyLedger interface {
	// Reserve claims key for orderID. When the key is already taken, the
	// existing entry is returned with reserved=false.
	Reserve(ctx context.Context, scope, key, orderID string) (entry LedgerEntry, reserved bool, err error)
	Complete(ctx context.Context, scope, key, orderID string) error
	// Release drops a reservation whose saga never started.
	Release(ctx context.Context, scope, key string) error
}

func ledgerKey(scope, key string) string {
	return "orders:idempotency:" + scope + ":" + key
}

// RedisLedger keeps entries in Redis with a TTL.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Reserve(ctx context.Context, scope, key, orderID string) (LedgerEntry, bool, error) {
	entry := LedgerEntry{OrderID: orderID, State: LedgerInFlight}
	data, err := json.Marshal(entry)
	if err != nil {
		return LedgerEntry{}, false, err
	}

	k := ledgerKey(scope, key)
	for range 2 {
		ok, err := l.client.SetNX(ctx, k, data, l.ttl).Result()
		if err != nil {
			return LedgerEntry{}, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
		}
		if ok {
			return entry, true, nil
		}

		raw, err := l.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return LedgerEntry{}, false, fmt.Errorf("failed to read idempotency key: %w", err)
		}
		var existing LedgerEntry
		if err := json.Unmarshal(raw, &existing); err != nil {
			return LedgerEntry{}, false, fmt.Errorf("corrupt idempotency entry %s: %w", k, err)
		}
		return existing, false, nil
	}
	return LedgerEntry{}, false, fmt.Errorf("idempotency key %s is churning: %w", key, ErrConflict)
}

func (l *RedisLedger) Complete(ctx context.Context, scope, key, orderID string) error {
	data, err := json.Marshal(LedgerEntry{OrderID: orderID, State: LedgerCompleted})
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, ledgerKey(scope, key), data, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, scope, key string) error {
	if err := l.client.Del(ctx, ledgerKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryLedger is the single-replica ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryLedgerEntry
}

type memoryLedgerEntry struct {
	LedgerEntry
	expiresAt time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{ttl: ttl, entries: make(map[string]memoryLedgerEntry)}
}

func (l *MemoryLedger) Reserve(_ context.Context, scope, key, orderID string) (LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := ledgerKey(scope, key)
	if e, ok := l.entries[k]; ok && time.Now().Before(e.expiresAt) {
		return e.LedgerEntry, false, nil
	}
	entry := LedgerEntry{OrderID: orderID, State: LedgerInFlight}
	l.entries[k] = memoryLedgerEntry{LedgerEntry: entry, expiresAt: time.Now().Add(l.ttl)}
	return entry, true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, scope, key, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[ledgerKey(scope, key)] = memoryLedgerEntry{
		LedgerEntry: LedgerEntry{OrderID: orderID, State: LedgerCompleted},
		expiresAt:   time.Now().Add(l.ttl),
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, scope, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ledgerKey(scope, key))
	return nil
}

// Sweep drops entries expired at now and returns how many were dropped.
// Redis expires its keys itself.
func (l *MemoryLedger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	swept := 0
	for k, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, k)
			swept++
		}
	}
	return swept
}
