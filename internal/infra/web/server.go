package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"khip-entitlements/internal/config"
	"khip-entitlements/internal/infra/logging"
	"khip-entitlements/internal/usecase"
)

// Deps are the use cases served over HTTP.
type Deps struct {
	Purchases    usecase.PurchaseUseCase
	Entitlements usecase.EntitlementUseCase
	Access       usecase.AccessUseCase
	Queue        usecase.AdminQueueUseCase
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

type Server struct {
	deps    Deps
	auth    *AuthManager
	keys    config.AuthConfig
	origins []string
	limiter *IPRateLimiter
	log     *zerolog.Logger
	now     func() time.Time
	srv     *http.Server
}

func NewServer(ctx context.Context, cfg *config.Config, deps Deps, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "http").Logger()
	s := &Server{
		deps:    deps,
		auth:    NewAuthManager(cfg.Auth.JWTSecret),
		keys:    cfg.Auth,
		origins: cfg.HTTP.CORSOrigins,
		limiter: NewIPRateLimiter(ctx, cfg.HTTP.RateRPS, cfg.HTTP.RateBurst),
		log:     &l,
		now:     time.Now,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// WithClock overrides the instant used for entitlement and queue reads.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.With(s.apiKeyAuth(s.keys.ServiceKey)).Post("/checkout/purchases", s.handleCreatePurchase)

		r.Route("/me", func(r chi.Router) {
			r.Use(s.userAuth)
			r.Get("/purchases", s.handleHistory)
			r.Get("/summary", s.handleSummary)
			r.Get("/entitlements", s.handleEntitlements)
			r.Get("/access/{companyID}", s.handleAccess)
			r.Post("/trial", s.handleStartTrial)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.apiKeyAuth(s.keys.AdminKey))
			r.Get("/purchases", s.handleAllPurchases)
			r.Get("/queue", s.handleQueue)
			r.Get("/queue/counts", s.handleQueueCounts)
			r.Post("/purchases/{id}/draft", s.handleGenerateDraft)
			r.Post("/purchases/{id}/deliver", s.handleDeliver)
			r.Post("/purchases/{id}/fail", s.handleFail)
		})
	})
	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.deps.Gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})
}

// traceMiddleware assigns a trace id, echoes it back and logs the request.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Trace-ID", id)
		ctx := logging.WithTraceID(r.Context(), id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
