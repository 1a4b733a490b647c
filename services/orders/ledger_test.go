package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLedger(client, time.Hour), mr
}

func ledgers(t *testing.T) map[string]IdempotencyLedger {
	redisLedger, _ := setupRedisLedger(t)
	return map[string]IdempotencyLedger{
		"redis":  redisLedger,
		"memory": NewMemoryLedger(time.Hour),
	}
}

func TestLedger_ReserveOnce(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, ok, err := ledger.Reserve(ctx, "user-1", "key-1", "order-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, LedgerInFlight, first.State)

			second, ok, err := ledger.Reserve(ctx, "user-1", "key-1", "order-2")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, "order-1", second.OrderID)
			assert.Equal(t, LedgerInFlight, second.State)

			_, ok, err = ledger.Reserve(ctx, "user-2", "key-1", "order-3")
			require.NoError(t, err)
			assert.True(t, ok, "keys are scoped per user")
		})
	}
}

func TestLedger_CompleteAndRelease(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := ledger.Reserve(ctx, "user-1", "key-1", "order-1")
			require.NoError(t, err)

			require.NoError(t, ledger.Complete(ctx, "user-1", "key-1", "order-1"))
			entry, ok, err := ledger.Reserve(ctx, "user-1", "key-1", "order-2")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, LedgerEntry{OrderID: "order-1", State: LedgerCompleted}, entry)

			require.NoError(t, ledger.Release(ctx, "user-1", "key-1"))
			_, ok, err = ledger.Reserve(ctx, "user-1", "key-1", "order-2")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRedisLedger_EntriesExpire(t *testing.T) {
	// Arrange
	ledger, mr := setupRedisLedger(t)
	ctx := context.Background()
	_, ok, err := ledger.Reserve(ctx, "user-1", "key-1", "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(ledgerKey("user-1", "key-1")))

	// Act
	mr.FastForward(2 * time.Hour)

	// Assert
	_, ok, err = ledger.Reserve(ctx, "user-1", "key-1", "order-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLedger_UnavailableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	ledger := NewRedisLedger(client, time.Hour)

	_, _, err := ledger.Reserve(context.Background(), "user-1", "key-1", "order-1")

	assert.Error(t, err)
}

func TestMemoryLedger_SweepDropsExpiredEntries(t *testing.T) {
	// Arrange
	ledger := NewMemoryLedger(time.Hour)
	ctx := context.Background()
	_, ok, err := ledger.Reserve(ctx, "user-1", "key-1", "order-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ledger.Complete(ctx, "user-1", "key-2", "order-2"))

	// Act
	live := ledger.Sweep(time.Now())
	expired := ledger.Sweep(time.Now().Add(2 * time.Hour))

	// Assert
	assert.Zero(t, live)
	assert.Equal(t, 2, expired)
	assert.Empty(t, ledger.entries)
	_, ok, err = ledger.Reserve(ctx, "user-1", "key-1", "order-3")
	require.NoError(t, err)
	assert.True(t, ok)
}
