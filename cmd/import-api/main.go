package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-graph-import/internal/api"
	"go-graph-import/internal/api/handler"
	"go-graph-import/internal/app"
	"go-graph-import/internal/config"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/scheduler"
	"go-graph-import/pkg/router"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)
	if err := run(log); err != nil {
		log.Error("import api stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, settings, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// background requests outlive the HTTP call that submitted them
	manager := pipeline.NewManager(context.WithoutCancel(ctx), a.Pipeline, a.States, log)

	sched := scheduler.New(context.WithoutCancel(ctx), manager, log)
	if err := sched.Load(a.Config.Schedules); err != nil {
		log.Warn("some schedules were not registered", "error", err)
	}
	sched.Start()

	// Create router
	r := router.New()

	// Register API routes
	api.RegisterRoutes(r, handler.NewImportHandler(manager, a.States, a.Config, log))

	// Start server; returns once ctx is cancelled and requests have drained
	serveErr := r.Start(ctx, settings.ListenAddr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn("imports still running at shutdown", "active", manager.Active(), "error", err)
	}
	return serveErr
}
