// Package app wires configuration, storage, caches and HTTP into a runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geologic-api/internal/cache/collectionstore"
	"github.com/mohammed-shakir/geologic-api/internal/cache/redisstore"
	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/core/health"
	"github.com/mohammed-shakir/geologic-api/internal/core/router"
	"github.com/mohammed-shakir/geologic-api/internal/core/server"
	"github.com/mohammed-shakir/geologic-api/internal/geologic"
	"github.com/mohammed-shakir/geologic-api/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geologic-api/internal/metrics"
	"github.com/mohammed-shakir/geologic-api/internal/photos"
	"github.com/mohammed-shakir/geologic-api/internal/store/postgis"
)

// DB is what the services and the health check need from the database.
type DB interface {
	postgis.Querier
	health.Pinger
}

type App struct {
	cfg      config.Config
	log      *slog.Logger
	handler  http.Handler
	consumer *kafkaconsumer.Consumer
	closers  []func()
}

// New connects to PostGIS, and to Redis when caching is enabled, then
// assembles the HTTP handler.
func New(ctx context.Context, cfg config.Config, log *slog.Logger, build metrics.BuildInfo) (*App, error) {
	a := &App{cfg: cfg, log: log}

	db, err := postgis.New(ctx, cfg.Database.URL,
		postgis.WithMaxConns(cfg.Database.MaxConns),
		postgis.WithMinConns(cfg.Database.MinConns),
		postgis.WithMaxConnIdleTime(cfg.Database.MaxConnIdleTime),
	)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	var store *collectionstore.Store
	if cfg.Cache.Enabled {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		store = collectionstore.New(rc, cfg.Cache.TTL, cfg.Cache.OpTimeout,
			collectionstore.WithBreaker(cfg.Cache.BreakerFailures, cfg.Cache.BreakerCooldown))
	}

	if err := a.assemble(db, store, build); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(db DB, store *collectionstore.Store, build metrics.BuildInfo) error {
	if a.log == nil {
		a.log = slog.Default()
	}
	prov, err := metrics.New(build)
	if err != nil {
		return err
	}

	catalog := geologic.NewCatalog(db, a.cfg.Catalog.TTL, a.log)
	var opts []geologic.Option
	if store != nil {
		opts = append(opts, geologic.WithCache(store))
	}
	geo := geologic.NewService(db, catalog, a.log, opts...)
	ph := photos.NewService(db, catalog, a.cfg.Storage.BaseURL, a.log)

	handlers := router.NewHandlers(geo, ph, a.cfg, a.log)
	a.handler = server.NewHandler(a.cfg, a.log, server.Deps{
		DB:      db,
		Metrics: prov.Handler(),
		Mount:   handlers.Mount,
	})

	if a.cfg.Invalidation.Enabled && store != nil {
		a.consumer = kafkaconsumer.New(kafkaconsumer.FromConfig(a.cfg.Invalidation), a.log, store, catalog)
	}
	return nil
}

func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP, and consumes invalidation events when enabled, until ctx is done.
// The consumer runs under a supervisor that restarts it on failure; the API
// keeps serving while it is down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.consumer != nil {
		sup := newSupervisor(a.log, failureBackoff)
		sup.Add(service{name: "kafka-invalidation-consumer", run: a.consumer})
		g.Go(func() error {
			if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
				a.log.ErrorContext(ctx, "supervisor stopped", "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return server.Run(ctx, a.cfg, a.log, a.handler)
	})
	return g.Wait()
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
