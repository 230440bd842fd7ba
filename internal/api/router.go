package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/technosupport/ts-vigil/internal/middleware"
	"github.com/technosupport/ts-vigil/internal/tokens"
)

// HealthCheck reports one dependency. Nil checks are skipped.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Triggers *TriggerHandler
	Events   *EventHandler

	// Auth is nil when no signing key is configured.
	Auth      *middleware.ServiceAuth
	RateLimit *middleware.RateLimitMiddleware
	Health    map[string]HealthCheck
	Timeout   time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", healthz(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(cfg.Timeout))
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit.Limit)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(tokens.ScopeTriggers))
			r.Post("/cameras/{camera_id}/webhook", cfg.Triggers.Webhook)
			r.Post("/cameras/{camera_id}/motion", cfg.Triggers.Motion)
			r.Post("/messages", cfg.Triggers.Message)
			r.Post("/patrols", cfg.Triggers.Patrol)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(tokens.ScopeEvents))
			r.Get("/cameras", cfg.Triggers.ListCameras)
			if cfg.Events != nil {
				r.Get("/events", cfg.Events.List)
				r.Get("/events/{id}", cfg.Events.Get)
			}
		})
	})

	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		respondJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
	}
}
