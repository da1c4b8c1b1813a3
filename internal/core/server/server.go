// Package server assembles the HTTP handler and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/core/health"
	"github.com/mohammed-shakir/geologic-api/internal/core/middleware"
)

const shutdownTimeout = 10 * time.Second

type Deps struct {
	DB      health.Pinger
	Metrics http.Handler
	Mount   func(chi.Router)
}

// NewHandler wires middleware, the operational endpoints and the API routes.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	// Recover must stay inside Logging and Metrics
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS(cfg.HTTP.CORSOrigins))

	r.Get("/healthz", health.Liveness())
	if d.DB != nil {
		r.Get("/health", health.Handler(d.DB, health.DefaultTimeout, logger))
	}
	if cfg.Metrics.Enabled && d.Metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, d.Metrics)
	}
	if d.Mount != nil {
		d.Mount(r)
	}
	return r
}

// Run serves h on cfg.HTTP.Addr and shuts down gracefully when ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, logger, h)
}

func Serve(ctx context.Context, ln net.Listener, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
