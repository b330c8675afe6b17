package routes

import (
	"context"
	"net/http"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/baydirectory/cache"
	appmw "github.com/briangreenhill/baydirectory/internal/http/middleware"
	"github.com/briangreenhill/baydirectory/pkg/directory"
	"github.com/briangreenhill/baydirectory/pkg/translate"
)

// Enqueuer is the part of *asynq.Client the server uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Router       *chi.Mux
	Sess         *scs.SessionManager
	Client       *directory.Client
	Translator   *translate.Translator
	Translations *cache.TTLCache[[]string] // translation cache, for stats and clearing
	Queue        Enqueuer                  // nil disables POST /cache/warm
}

type ServerOptions struct {
	Sess         *scs.SessionManager
	Client       *directory.Client
	Translator   *translate.Translator
	Translations *cache.TTLCache[[]string]
	Queue        Enqueuer
	AdminToken   string
	Gatherer     prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Log          zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	sess := opts.Sess
	if sess == nil {
		sess = scs.New()
	}
	s := &Server{
		Router:       r,
		Sess:         sess,
		Client:       opts.Client,
		Translator:   opts.Translator,
		Translations: opts.Translations,
		Queue:        opts.Queue,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(pr chi.Router) {
		pr.Use(s.Sess.LoadAndSave)
		pr.Use(s.sessionToContext)
		pr.Get("/programs", s.handlePrograms)
		pr.Get("/programs/{programID}", s.handleProgram)
		pr.Get("/categories", s.handleResource(directory.PathCategories))
		pr.Get("/areas", s.handleResource(directory.PathAreas))
		pr.Get("/stats", s.handleResource(directory.PathStats))
		pr.Post("/translate", s.handleTranslate)
		pr.Put("/session/lang", s.handleSetLang)
	})

	r.Get("/cache/stats", s.handleCacheStats)
	r.Group(func(ar chi.Router) {
		ar.Use(appmw.RequireAdmin(opts.AdminToken))
		ar.Post("/cache/warm", s.handleCacheWarm)
		ar.Delete("/cache", s.handleCacheClear)
	})

	return s
}

func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lang := s.Sess.GetString(r.Context(), sessionLangKey); lang != "" {
			r = r.WithContext(context.WithValue(r.Context(), appmw.LangKey, lang))
		}
		next.ServeHTTP(w, r)
	})
}
