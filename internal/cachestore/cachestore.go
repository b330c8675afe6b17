// Package cachestore opens the persistent tier configured for the cache.
package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/internal/config"
)

// Store is an opened backend. Storage is nil for the memory backend, which
// keeps entries in process only.
type Store struct {
	Storage cache.Storage
	Backend string
	close   func() error
}

// Close releases the backend's connections or file handles.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open connects to the backend named by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Store, error) {
	backend := cfg.Cache.Backend
	switch backend {
	case config.BackendMemory, "":
		return &Store{Backend: config.BackendMemory}, nil

	case config.BackendFile:
		fs, err := cache.NewFileStorage(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		log.Info().Str("dir", fs.Dir()).Msg("cache storage: file")
		return &Store{Storage: fs, Backend: backend}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// RedisStorage recovers on its own once the server is reachable.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable yet")
		}
		rs, err := cache.NewRedisStorage(cache.RedisStorageOpts{
			Client:       client,
			ClientCloser: client,
			Expiration:   expiration(cfg),
			Logger:       &log,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("cache storage: redis")
		return &Store{Storage: rs, Backend: backend, close: rs.Close}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ps := cache.NewPostgresStorage(pool, 0)
		if err := ps.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create cache table: %w", err)
		}
		log.Info().Msg("cache storage: postgres")
		return &Store{Storage: ps, Backend: backend, close: func() error { pool.Close(); return nil }}, nil

	case config.BackendBolt:
		bs, err := cache.OpenBoltStorage(cfg.Cache.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt cache: %w", err)
		}
		log.Info().Str("path", cfg.Cache.BoltPath).Msg("cache storage: bolt")
		return &Store{Storage: bs, Backend: backend, close: bs.Close}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}

// expiration lets Redis reclaim keys well after the longest TTL in use, so
// entries the cache still considers live are never dropped underneath it.
func expiration(cfg *config.Config) time.Duration {
	longest := cfg.Cache.TTL
	if cfg.Cache.TranslationTTL > longest {
		longest = cfg.Cache.TranslationTTL
	}
	return 2 * longest
}
