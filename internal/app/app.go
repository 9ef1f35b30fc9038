// Package app wires settings into a ready pipeline for the CLI and the API server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-graph-import/internal/config"
	"go-graph-import/internal/connector"
	"go-graph-import/internal/graph"
	"go-graph-import/internal/loader"
	"go-graph-import/internal/pipeline"
	"go-graph-import/internal/store"
	"go-graph-import/pkg/utils"

	"github.com/nats-io/nats.go"
)

// App owns every long-lived resource of the process
type App struct {
	Settings   config.Settings
	Config     *config.Config
	Connectors *connector.Registry
	Graph      graph.Store
	// States is the status store itself; Status is what runs publish to.
	States   *store.SQLite
	Status   store.Store
	Pipeline *pipeline.Pipeline
	Log      *slog.Logger

	nc *nats.Conn
}

// Build loads the domain configuration and opens the graph and status stores.
func Build(ctx context.Context, s config.Settings, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Settings: s, Connectors: connector.NewRegistry(), Log: log}

	cfg, err := config.Load(s.ConfigPath, a.Connectors.Known)
	if err != nil {
		return nil, err
	}
	a.Config = cfg
	log.Info("configuration loaded", "file", s.ConfigPath, "domains", len(cfg.Domains), "schedules", len(cfg.Schedules))

	if err := utils.NewStagingManager(s.StagingRoot).EnsureBaseDirExists(); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}

	g, err := graph.Open(ctx, s.GraphDriver, s.GraphDSN)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	a.Graph = g

	states, err := store.OpenSQLite(ctx, s.StatusDB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open status store: %w", err)
	}
	a.States = states
	a.Status = states

	if s.NATSURL != "" {
		nc, err := store.ConnectNATS(s.NATSURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nc = nc
		a.Status = store.NewPublishing(states, nc, s.NATSSubject, log)
		log.Info("publishing status transitions", "url", s.NATSURL, "subject", s.NATSSubject)
	}

	retry := loader.DefaultRetryConfig
	retry.MaxAttempts = s.RetryMax
	a.Pipeline = pipeline.New(cfg, a.Connectors, a.Graph, a.Status, pipeline.Options{
		StagingRoot:  s.StagingRoot,
		LoadWorkers:  s.LoadWorkers,
		BatchSize:    s.BatchSize,
		BatchTimeout: s.BatchTimeout,
		FetchTimeout: s.FetchTimeout,
		HandlePool:   s.HandlePool,
		Retry:        retry,
		KeepStaging:  s.KeepStaging,
	}, log)
	return a, nil
}

// Close releases what Build opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.States != nil {
		errs = append(errs, a.States.Close())
	}
	if a.Graph != nil {
		errs = append(errs, a.Graph.Close())
	}
	return errors.Join(errs...)
}
