package config

import (
	"errors"
	"time"

	"go-graph-import/pkg/env"
)

// Settings are process-level knobs read from the environment
type Settings struct {
	ConfigPath   string
	StagingRoot  string
	ListenAddr   string
	StatusDB     string
	GraphDriver  string
	GraphDSN     string
	LoadWorkers  int
	BatchSize    int
	FetchTimeout time.Duration
	BatchTimeout time.Duration
	HandlePool   int
	NATSURL      string
	NATSSubject  string
	KeepStaging  bool
	RetryMax     int
}

// LoadSettings reads IMPORT_* variables, falling back to defaults.
func LoadSettings() (Settings, error) {
	s := Settings{
		ConfigPath:  env.String("IMPORT_CONFIG", "import.yaml"),
		StagingRoot: env.String("IMPORT_STAGING_ROOT", "staging"),
		ListenAddr:  env.String("IMPORT_LISTEN_ADDR", ":8080"),
		StatusDB:    env.String("IMPORT_STATUS_DB", "status.db"),
		GraphDriver: env.String("IMPORT_GRAPH_DRIVER", "sqlite3"),
		GraphDSN:    env.String("IMPORT_GRAPH_DSN", "graph.db"),
		NATSURL:     env.String("IMPORT_NATS_URL", ""),
		NATSSubject: env.String("IMPORT_NATS_SUBJECT", "imports.status"),
	}
	var errs []error
	var err error
	if s.LoadWorkers, err = env.Int("IMPORT_LOAD_WORKERS", 4); err != nil {
		errs = append(errs, err)
	}
	if s.BatchSize, err = env.Int("IMPORT_BATCH_SIZE", 1000); err != nil {
		errs = append(errs, err)
	}
	if s.HandlePool, err = env.Int("IMPORT_HANDLE_POOL", 64); err != nil {
		errs = append(errs, err)
	}
	if s.FetchTimeout, err = env.Duration("IMPORT_FETCH_TIMEOUT", 300*time.Second); err != nil {
		errs = append(errs, err)
	}
	if s.BatchTimeout, err = env.Duration("IMPORT_BATCH_TIMEOUT", 60*time.Second); err != nil {
		errs = append(errs, err)
	}
	if s.KeepStaging, err = env.Bool("IMPORT_KEEP_STAGING", false); err != nil {
		errs = append(errs, err)
	}
	if s.RetryMax, err = env.Int("IMPORT_RETRY_MAX_ATTEMPTS", 3); err != nil {
		errs = append(errs, err)
	}
	if s.GraphDriver != "sqlite3" && s.GraphDriver != "pgx" {
		errs = append(errs, errors.New("IMPORT_GRAPH_DRIVER must be sqlite3 or pgx"))
	}
	if s.LoadWorkers < 1 || s.BatchSize < 1 {
		errs = append(errs, errors.New("IMPORT_LOAD_WORKERS and IMPORT_BATCH_SIZE must be positive"))
	}
	return s, errors.Join(errs...)
}
