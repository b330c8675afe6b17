package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/internal/cachestore"
	"github.com/briangreenhill/baydirectory/internal/config"
	"github.com/briangreenhill/baydirectory/internal/httpclient"
	"github.com/briangreenhill/baydirectory/internal/jobs"
	"github.com/briangreenhill/baydirectory/pkg/directory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("svc", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if cfg.Cache.Backend == config.BackendMemory {
		logger.Warn().Msg("memory cache backend: warmed entries are not shared with the api")
	}

	store, err := cachestore.Open(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache storage error")
	}
	defer func() { _ = store.Close() }()

	cacheLog := logger.With().Str("component", "cache").Logger()
	opts := cfg.CacheOptions()
	opts.Storage = store.Storage
	opts.Logger = &cacheLog

	client, err := directory.New(cfg.APIBaseURL,
		directory.WithHTTPClient(httpclient.New(cfg.APITimeout, cfg.APIToken)),
		directory.WithCache(cache.New[directory.CachedResponse](opts)),
		directory.WithLogger(logger.With().Str("component", "directory").Logger()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("directory client error")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    4,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueCache: 10,
			"default":       5,
		},
		Logger: asynqLogger{logger.With().Str("component", "asynq").Logger()},
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskWarmCache, &jobs.Warmer{
		Client: client,
		Log:    logger.With().Str("task", jobs.TaskWarmCache).Logger(),
	})

	logger.Info().Str("redis", cfg.RedisAddr).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any) { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any) { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
