package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need live services and skip unless pointed at them.

func postgresBackend(t *testing.T) *PostgresBackend {
	t.Helper()
	dsn := os.Getenv("PRICES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PRICES_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	table := fmt.Sprintf("daily_prices_test_%d", time.Now().UnixNano())
	b, err := ConnectPostgres(ctx, dsn, table, 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+b.table)
		b.Close()
	})
	return b
}

func TestPostgresBackend_MergeLaws(t *testing.T) {
	b := postgresBackend(t)
	m := NewMerger(b, WithLocker(b))
	ctx := context.Background()

	res, err := m.Merge(ctx, []Record{
		rec("2025-01-16", "HPG", "26550", "vndirect"),
		rec("2025-01-16", "GOLD_SJC", "169300000", "btmc"),
	}, SkipIfExists)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2}, res)

	res, err = m.Merge(ctx, []Record{rec("2025-01-16", "HPG", "27000", "vndirect")}, SkipIfExists)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)

	res, err = m.Merge(ctx, []Record{rec("2025-01-16", "HPG", "26800", "manual")}, UpdateIfExists)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)

	keys, err := b.Load(ctx, []string{"2025-01-16"})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "26800", keys[Key{"2025-01-16", "HPG"}].String())
}

func TestPostgresBackend_AdvisoryLockExcludes(t *testing.T) {
	b := postgresBackend(t)

	unlock, err := b.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx)
	assert.Error(t, err)

	require.NoError(t, unlock())
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("PRICES_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PRICES_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := fmt.Sprintf("pricecollector:test:%d", time.Now().UnixNano())
	lock := &RedisLock{Client: client, Key: key, TTL: 5 * time.Second, Poll: 10 * time.Millisecond}

	unlock, err := lock.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.Lock(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, unlock())
	assert.Zero(t, client.Exists(context.Background(), key).Val())

	// a lock taken over by someone else is not released by the old holder
	unlock, err = lock.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), key, "other", time.Minute).Err())
	require.NoError(t, unlock())
	assert.Equal(t, "other", client.Get(context.Background(), key).Val())
}
