package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/baydirectory/pkg/directory"
)

// Fetcher is the part of directory.Client the warmer needs.
type Fetcher interface {
	Fetch(ctx context.Context, resource string) (*directory.Response, error)
}

// NewWarmCacheTask builds a cache:warm task for the given resources.
func NewWarmCacheTask(p WarmCachePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	return asynq.NewTask(TaskWarmCache, payload), nil
}

// Warmer fetches directory resources so the shared cache holds them before
// users ask. It implements asynq.Handler.
type Warmer struct {
	Client Fetcher
	Log    zerolog.Logger
}

func (w *Warmer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p WarmCachePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.Log.Error().Err(err).Msg("bad warm payload")
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}

	resources := p.Resources
	if len(resources) == 0 {
		resources = directory.Resources
	}

	log := w.Log.With().Str("task", p.RequestedBy).Logger()
	log.Info().Strs("resources", resources).Msg("warm start")
	start := time.Now()

	var retry []error
	for _, r := range resources {
		resp, err := w.Client.Fetch(ctx, r)
		if err != nil {
			if directory.IsRetryable(err) {
				log.Warn().Err(err).Str("resource", r).Msg("retryable error")
				retry = append(retry, err)
				continue
			}
			log.Error().Err(err).Str("resource", r).Msg("permanent error, skipping resource")
			continue
		}
		log.Debug().Str("resource", r).Bool("from_cache", resp.FromCache).Msg("warmed")
	}

	if len(retry) > 0 {
		// Resources that succeeded are cached now; the retry revalidates
		// them cheaply with If-None-Match.
		return errors.Join(retry...)
	}
	log.Info().Dur("duration", time.Since(start)).Msg("warm done")
	return nil
}
