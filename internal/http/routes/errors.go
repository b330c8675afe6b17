package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/baydirectory/pkg/directory"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps client and translation errors onto HTTP responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := hlog.FromRequest(r)

	var (
		re *directory.RequestError
		ve *translate.ValidationError
		cm *translate.CountMismatchError
		te *directory.TransportError
	)
	switch {
	case errors.As(err, &re):
		code := re.Code
		if code == "" {
			code = "upstream_error"
		}
		log.Warn().Err(err).Int("upstream_status", re.Status).Msg("upstream request failed")
		writeJSON(w, re.Status, errorBody{Error: code, Message: re.Message})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: ve.Error()})
	case errors.Is(err, directory.ErrStaleProtocol):
		log.Warn().Err(err).Msg("upstream sent 304 without a cached body")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "stale_cache", Message: "upstream revalidation failed, retry"})
	case errors.As(err, &cm), errors.Is(err, directory.ErrInvalidJSON):
		log.Error().Err(err).Msg("bad upstream response")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "bad_upstream_response"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: "upstream_timeout"})
	case errors.As(err, &te):
		log.Error().Err(err).Msg("upstream unreachable")
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream_unavailable"})
	case errors.Is(err, context.Canceled):
		// Client went away; nobody is listening for a body.
		w.WriteHeader(499)
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
	}
}
