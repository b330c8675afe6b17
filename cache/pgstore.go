package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS cache_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStorage implements Storage on a cache_kv table.
type PostgresStorage struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStorage wraps pool. Call EnsureSchema once before use.
func NewPostgresStorage(pool *pgxpool.Pool, timeout time.Duration) *PostgresStorage {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &PostgresStorage{pool: pool, timeout: timeout}
}

// EnsureSchema creates the cache_kv table if it does not exist.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("create cache_kv: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var v string
	err := p.pool.QueryRow(ctx, `SELECT value FROM cache_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select cache_kv: %w", err)
	}
	return v, true, nil
}

func (p *PostgresStorage) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO cache_kv (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("upsert cache_kv: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache_kv: %w", err)
	}
	return nil
}
