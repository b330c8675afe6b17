// cmd/api/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/internal/cachestore"
	"github.com/briangreenhill/baydirectory/internal/config"
	"github.com/briangreenhill/baydirectory/internal/http/routes"
	"github.com/briangreenhill/baydirectory/internal/httpclient"
	"github.com/briangreenhill/baydirectory/pkg/directory"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("svc", "api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.Cache.Backend).Msg("starting api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache storage
	store, err := cachestore.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache storage error")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("close cache storage")
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	respMetrics, err := cache.NewMetrics(reg, "responses")
	if err != nil {
		logger.Fatal().Err(err).Msg("register metrics")
	}
	transMetrics, err := cache.NewMetrics(reg, "translations")
	if err != nil {
		logger.Fatal().Err(err).Msg("register metrics")
	}

	cacheLog := logger.With().Str("component", "cache").Logger()
	respOpts := cfg.CacheOptions()
	respOpts.Storage = store.Storage
	respOpts.Logger = &cacheLog
	respOpts.Metrics = respMetrics
	responses := cache.New[directory.CachedResponse](respOpts)

	transOpts := cfg.CacheOptions()
	transOpts.Storage = store.Storage
	transOpts.Namespace = cfg.Cache.Namespace + "-tr"
	transOpts.TTL = cfg.Cache.TranslationTTL
	transOpts.Logger = &cacheLog
	transOpts.Metrics = transMetrics
	translations := cache.New[[]string](transOpts)

	// Directory client
	client, err := directory.New(cfg.APIBaseURL,
		directory.WithHTTPClient(httpclient.New(cfg.APITimeout, cfg.APIToken)),
		directory.WithCache(responses),
		directory.WithFreshness(cfg.Cache.Freshness),
		directory.WithLogger(logger.With().Str("component", "directory").Logger()),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("directory client error")
	}
	translator := translate.New(client,
		translate.WithCache(translations),
		translate.WithTTL(cfg.Cache.TranslationTTL),
		translate.WithLogger(logger.With().Str("component", "translate").Logger()),
	)

	// Queue
	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:         sess,
		Client:       client,
		Translator:   translator,
		Translations: translations,
		Queue:        queue,
		AdminToken:   cfg.AdminToken,
		Gatherer:     reg,
		Log:          logger,
	})
	if !cfg.HasAdmin() {
		logger.Warn().Msg("ADMIN_TOKEN not set; cache management endpoints are disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("stopped")
}
