// Package api serves the admin HTTP surface: manual run trigger, the
// dashboard status, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/state"
)

// Runner performs one maintenance run
type Runner interface {
	Run(ctx context.Context) (maintenance.Outcome, error)
}

// StateReader loads the persisted run state
type StateReader interface {
	LoadRunState(ctx context.Context) (state.RunState, error)
}

// Planner reports the next scheduled run
type Planner interface {
	NextRun() time.Time
}

// Options configure the router. Planner, Limiter and Metrics may be nil.
type Options struct {
	Planner     Planner
	Limiter     *rate.Limiter
	Metrics     http.Handler
	MetricsPath string
	Logger      *slog.Logger
}

// API holds the handler dependencies
type API struct {
	runner  Runner
	state   StateReader
	planner Planner
	limiter *rate.Limiter
	metrics http.Handler
	path    string
	logger  *slog.Logger
}

// New creates the API
func New(runner Runner, st StateReader, opts Options) (*API, error) {
	if runner == nil {
		return nil, errors.New("api: runner is required")
	}
	if st == nil {
		return nil, errors.New("api: state reader is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	return &API{
		runner:  runner,
		state:   st,
		planner: opts.Planner,
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		path:    opts.MetricsPath,
		logger:  opts.Logger,
	}, nil
}

// Routes builds the chi router
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, a.path, a.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.With(a.rateLimit).Post("/runs", a.handleTriggerRun)
		r.Get("/status", a.handleStatus)
	})

	return r
}

// rateLimit rejects requests beyond the limiter's budget with 429
func (a *API) rateLimit(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			respondError(w, http.StatusTooManyRequests, errors.New("too many run requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
