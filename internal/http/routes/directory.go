package routes

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/baydirectory/pkg/directory"
)

// programParams are the query parameters forwarded to GET /programs.
// Anything else is dropped so it cannot fan out into extra cache entries.
var programParams = []string{"category", "area", "eligibility", "search", "limit", "offset"}

func (s *Server) handlePrograms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := map[string]string{}
	for _, k := range programParams {
		if v := q.Get(k); v != "" {
			params[k] = v
		}
	}
	s.proxy(w, r, directory.PathPrograms, params)
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "programID")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "invalid program ID"})
		return
	}
	s.proxy(w, r, directory.ProgramPath(id), nil)
}

func (s *Server) handleResource(p string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.proxy(w, r, p, nil)
	}
}

// proxy answers from the directory client. The upstream ETag is passed
// through so browsers can revalidate against this service as well.
func (s *Server) proxy(w http.ResponseWriter, r *http.Request, p string, params map[string]string) {
	resp, err := s.Client.Request(r.Context(), p, directory.RequestOptions{Params: params})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if resp.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", resp.ETag)
		if etagMatch(r.Header.Get("If-None-Match"), resp.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("path", p).Msg("write response")
	}
}

// etagMatch reports whether an If-None-Match header value matches etag,
// using the weak comparison GET requests allow.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}
