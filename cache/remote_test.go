package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to real servers and skip when none is configured.

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	s, err := NewRedisStorage(RedisStorageOpts{Client: client, ClientCloser: client})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	c := New[string](Options{Storage: s, Namespace: "baydir-test-" + time.Now().Format("150405.000")})
	defer c.Clear()

	c.Set("k", "v")
	v, ok, err := s.Get(c.storageKey("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, v, `"value":"v"`)

	got, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", got)
}

func TestNewRedisStorageRequiresClient(t *testing.T) {
	_, err := NewRedisStorage(RedisStorageOpts{})
	assert.Error(t, err)
}

func TestPostgresStorage(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}

	s := NewPostgresStorage(pool, 0)
	require.NoError(t, s.EnsureSchema(ctx))

	key := "baydir-test:" + time.Now().Format(time.RFC3339Nano)
	require.NoError(t, s.Set(key, "one"))
	require.NoError(t, s.Set(key, "two"))
	v, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", v)

	require.NoError(t, s.Remove(key))
	_, ok, err = s.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}
