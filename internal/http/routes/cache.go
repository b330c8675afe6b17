package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/baydirectory/cache"
	"github.com/briangreenhill/baydirectory/internal/jobs"
	"github.com/briangreenhill/baydirectory/pkg/directory"
)

type cacheStats struct {
	Responses    *cache.Stats `json:"responses,omitempty"`
	Translations *cache.Stats `json:"translations,omitempty"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	var out cacheStats
	if rc := s.Client.Cache(); rc != nil {
		st := rc.Stats()
		out.Responses = &st
	}
	if s.Translations != nil {
		st := s.Translations.Stats()
		out.Translations = &st
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if rc := s.Client.Cache(); rc != nil {
		rc.Clear()
	}
	if s.Translations != nil {
		s.Translations.Clear()
	}
	hlog.FromRequest(r).Info().Msg("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "queue_unavailable"})
		return
	}

	var p jobs.WarmCachePayload
	// An empty body warms everything.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid JSON body"})
		return
	}
	for _, res := range p.Resources {
		if !slices.Contains(directory.Resources, res) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "unknown resource " + res})
			return
		}
	}

	id := uuid.NewString()
	p.RequestedBy = id
	task, err := jobs.NewWarmCacheTask(p)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("build warm task")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
		return
	}

	info, err := s.Queue.Enqueue(task,
		asynq.Queue(jobs.QueueCache),
		asynq.TaskID(id),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to enqueue warm job")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "enqueue_failed"})
		return
	}

	hlog.FromRequest(r).Info().Str("task_id", info.ID).Msg("warm job queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
}
