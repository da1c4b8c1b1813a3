package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/geologic-api/internal/app"
	"github.com/mohammed-shakir/geologic-api/internal/core/config"
	"github.com/mohammed-shakir/geologic-api/internal/logger"
	"github.com/mohammed-shakir/geologic-api/internal/metrics"
)

// set with -ldflags
var (
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Service:   "geologic-api",
		Version:   cfg.App.Version,
		Component: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("starting geologic-api",
		"addr", cfg.HTTP.Addr,
		"version", cfg.App.Version,
		"prefix", cfg.API.Prefix,
		"cache", cfg.Cache.Enabled,
		"invalidation", cfg.Invalidation.Enabled)

	a, err := app.New(ctx, cfg, appLog, metrics.BuildInfo{
		Version:   cfg.App.Version,
		Revision:  Revision,
		BuildDate: BuildDate,
	})
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
