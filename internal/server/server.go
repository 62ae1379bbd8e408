// Package server exposes population queries over HTTP for the map UI.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/popradius/internal/metrics"
	"github.com/sells-group/popradius/internal/query"
	"github.com/sells-group/popradius/internal/raster"
)

// Runner executes queries. *query.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req query.Request) query.Outcome
}

// Layers describes configured bands. *raster.Catalog implements it.
type Layers interface {
	Bands() []string
	Path(name string) (string, bool)
	Describe(ctx context.Context, name string) (raster.Info, error)
}

// Config tunes the HTTP adapter.
type Config struct {
	CORSOrigins     []string
	RateLimitRPS    float64
	RateLimitBurst  int
	DefaultRadiusKm float64
	// MinFileBytes marks smaller raster files as not ready in /v1/layers.
	MinFileBytes int64
}

// Server routes HTTP requests to the query orchestrator.
type Server struct {
	runner Runner
	layers Layers
	cfg    Config
	router chi.Router
	log    *zap.Logger
}

// New builds the router.
func New(runner Runner, layers Layers, cfg Config) *Server {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 2.0
	}
	s := &Server{
		runner: runner,
		layers: layers,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			burst := cfg.RateLimitBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)))
		}
		r.Get("/population", s.handlePopulation)
		r.Get("/layers", s.handleLayers)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}
