// Package httpapi implements the API Gate (§4.7), the Ingestion Handler
// (§4.8) and the Subscription Handler (§4.9) as chi HTTP handlers.
//
// Grounded on the teacher's internal/server/server.go (setupMiddleware,
// setupRoutes, cors configuration) and the handlers/routes module pattern
// in internal/modules/currency/handlers/{handlers,routes}.go and
// internal/modules/dividends/handlers.go (writeJSON helper, repo-backed
// handler structs).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/clock"
	"github.com/aristath/dividend-ingest/internal/fastqueue"
	"github.com/aristath/dividend-ingest/internal/fetcher"
	"github.com/aristath/dividend-ingest/internal/jobmanager"
	"github.com/aristath/dividend-ingest/internal/ratebudget"
	"github.com/aristath/dividend-ingest/internal/ratelimit"
	"github.com/aristath/dividend-ingest/internal/routing"
	"github.com/aristath/dividend-ingest/internal/store"
	"github.com/aristath/dividend-ingest/internal/worker"
)

// serviceVersion is surfaced on /health (§6.1); overridden at build time
// with -ldflags "-X .../httpapi.serviceVersion=...".
var serviceVersion = "dev"

// Config wires the handlers' dependencies, mirroring the teacher's
// server.Config grouping of per-module dependencies.
type Config struct {
	Addr            string
	Gateway         store.Gateway
	Jobs            *jobmanager.Service
	Budget          *ratebudget.Service
	Oracle          routing.Oracle
	FastQueue       fastqueue.Sink
	Pool            *worker.Pool
	Fetcher         *fetcher.Client
	Clock           clock.Clock
	Log             zerolog.Logger
	DefaultKeyQuota int
	DevMode         bool
}

// Server is the HTTP surface described in §6.1.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	gw        store.Gateway
	jobs      *jobmanager.Service
	budget    *ratebudget.Service
	oracle    routing.Oracle
	fastQueue fastqueue.Sink
	pool      *worker.Pool
	fetcher   *fetcher.Client
	clock     clock.Clock
	limiter   *ratelimit.Limiter
	validate  *validator.Validate
	quota     int
}

func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "httpapi").Logger(),
		gw:        cfg.Gateway,
		jobs:      cfg.Jobs,
		budget:    cfg.Budget,
		oracle:    cfg.Oracle,
		fastQueue: cfg.FastQueue,
		pool:      cfg.Pool,
		fetcher:   cfg.Fetcher,
		clock:     cfg.Clock,
		limiter:   ratelimit.New(),
		validate:  validator.New(),
		quota:     cfg.DefaultKeyQuota,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// §4.6's standalone tick trigger: no auth, meant for an external cron
	// invoker rather than a subscribed API client.
	s.router.Post("/process-queue", s.handleProcessQueue)

	s.router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)

		r.Post("/update-tickers", s.handleUpdateTickers)
		r.Post("/process", s.handleProcess)

		r.Get("/jobs", s.handleListJobs)
		r.Get("/job-status/{jobId}", s.handleJobStatus)
		r.Delete("/jobs", s.handleCancelJob)
		r.Get("/jobs/stream/{jobId}", s.handleJobStream)

		r.Get("/dividends/all", s.handleAllDividends)
		r.Get("/dividends/{ticker}", s.handleTickerDividends)
		r.Get("/my-dividends", s.handleMyDividends)

		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSubscribe)
		r.Delete("/subscriptions", s.handleUnsubscribe)
		r.Post("/subscriptions/bulk", s.handleBulkSubscribe)
		r.Get("/subscriptions/activity", s.handleSubscriptionActivity)

		r.Get("/admin/queue", s.handleAdminQueue)
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.clock.Now(),
		"service":   "dividend-ingest",
		"version":   serviceVersion,
	})
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := s.pool.Tick(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "tick_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeAppError maps an apperr.Code to the HTTP status §6 expects and
// writes the error body; unclassified errors default to 500 via
// apperr.CodeOf's Transient default.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.Auth:
		status = http.StatusUnauthorized
	case apperr.Quota:
		status = http.StatusTooManyRequests
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusBadRequest
	case apperr.Transient:
		status = http.StatusInternalServerError
	case apperr.Fatal:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, errorResponse{Error: string(code), Message: err.Error()})
}
