package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderLocker serializes saga execution per order id across replicas.
type OrderLocker interface {
	// Lock blocks until the order lock is held. The returned func releases it.
	Lock(ctx context.Context, orderID string) (func(), error)
	// TryLock returns ok=false immediately when another holder owns the lock.
	TryLock(ctx context.Context, orderID string) (unlock func(), ok bool, err error)
}

// keyedMutex is a set of mutexes created on demand per key and dropped when
// nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock waits for key or until ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return k.unlockFunc(key, e), nil
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) TryLock(key string) (func(), bool) {
	e := k.acquire(key)
	select {
	case e.ch <- struct{}{}:
		return k.unlockFunc(key, e), true
	default:
		k.release(key, e)
		return nil, false
	}
}

func (k *keyedMutex) unlockFunc(key string, e *keyedEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}
}

// MemoryOrderLocker is the single-replica OrderLocker.
type MemoryOrderLocker struct {
	locks *keyedMutex
}

func NewMemoryOrderLocker() *MemoryOrderLocker {
	return &MemoryOrderLocker{locks: newKeyedMutex()}
}

func (l *MemoryOrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	return l.locks.Lock(ctx, orderID)
}

func (l *MemoryOrderLocker) TryLock(_ context.Context, orderID string) (func(), bool, error) {
	unlock, ok := l.locks.TryLock(orderID)
	return unlock, ok, nil
}

// PostgresOrderLocker uses session level advisory locks. The lock lives on a
// dedicated pooled connection until released.
type PostgresOrderLocker struct {
	db *pgxpool.Pool
}

func NewPostgresOrderLocker(db *pgxpool.Pool) *PostgresOrderLocker {
	return &PostgresOrderLocker{db: db}
}

func advisoryKey(orderID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("order:" + orderID))
	return int64(h.Sum64())
}

func (l *PostgresOrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for order lock: %w", err)
	}
	key := advisoryKey(orderID)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to lock order %s: %w", orderID, err)
	}
	return l.unlockFunc(conn, key), nil
}

func (l *PostgresOrderLocker) TryLock(ctx context.Context, orderID string) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for order lock: %w", err)
	}
	key := advisoryKey(orderID)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to try lock order %s: %w", orderID, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return l.unlockFunc(conn, key), true, nil
}

func (l *PostgresOrderLocker) unlockFunc(conn *pgxpool.Conn, key int64) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The lock must be released even when the saga's context is gone.
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
				// A connection that still holds the lock must not go back to the pool.
				_ = conn.Conn().Close(context.Background())
			}
			conn.Release()
		})
	}
}
