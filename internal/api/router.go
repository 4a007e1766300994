package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"careerpilot.app/career-chat/internal/auth"
)

type RouterConfig struct {
	StaticDir      string
	AllowedOrigins []string
}

func NewRouter(apiHandler *APIHandler, cfg RouterConfig, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(log.Named("http")))
	r.Use(Metrics())
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	signupLimit := apiHandler.limiter.ByIP("signup")
	signinLimit := apiHandler.limiter.ByIP("signin")

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(signupLimit).Post("/signup", apiHandler.SignupHandler)
			r.With(signinLimit).Post("/signin", apiHandler.SigninHandler)
			r.Post("/signout", apiHandler.SignoutHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.RequireAuth)
			r.Get("/trpc/{procedure}", apiHandler.HandleProcedure)
			r.Post("/trpc/{procedure}", apiHandler.HandleProcedure)
		})
	})

	r.With(signupLimit).Post("/signup", apiHandler.SignupHandler)

	// Pages: the gate only checks for a session cookie; the API verifies it.
	r.Group(func(r chi.Router) {
		r.Use(auth.Gate)
		r.Handle("/*", spaHandler{dir: cfg.StaticDir})
	})

	return r
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewOpsRouter serves Prometheus metrics and a health check that pings
// each dependency.
func NewOpsRouter(deps map[string]Pinger, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				checks[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{"status": state, "checks": checks})
	})

	return r
}
