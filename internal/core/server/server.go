package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/cutout-service/internal/core/config"
	"github.com/mohammed-shakir/cutout-service/internal/core/health"
	middleware "github.com/mohammed-shakir/cutout-service/internal/core/middleware"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/core/router"
)

type Deps struct {
	Retriever router.Retriever
	// Ready is pinged by /readyz.
	Ready []health.Pinger
	// Metrics serves /metrics; nil falls back to the default registry.
	Metrics http.Handler
}

// NewHandler builds the HTTP routes. The unprefixed cutout route serves the
// configured default schema.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready...))
	r.Method(http.MethodGet, "/metrics", metrics)

	mount := func(route string, kind model.SchemaKind) {
		h := router.HandleCutouts(logger, kind, route, d.Retriever)
		r.Get(route, h)
		r.Post(route, h)
	}
	mount("/api/v1/cutouts", model.SchemaKind(cfg.Schema))
	mount("/api/v1/ztf/cutouts", model.SchemaZTF)
	mount("/api/v1/lsst/cutouts", model.SchemaLSST)
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.FetchTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
