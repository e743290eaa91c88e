package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jaceberelen/jace/internal/assistant"
	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/config"
	"github.com/jaceberelen/jace/internal/events"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/llm"
	"github.com/jaceberelen/jace/internal/llm/openrouter"
	"github.com/jaceberelen/jace/internal/observability"
	"github.com/jaceberelen/jace/internal/storage"
	pgstore "github.com/jaceberelen/jace/internal/storage/postgres"
	sqlitestore "github.com/jaceberelen/jace/internal/storage/sqlite"
)

// SharedComponents holds all initialized subsystems that both serve and MCP
// modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs       *observability.Observability
	Provider  llm.Provider
	Executor  *executor.Executor
	Hub       *events.Hub
	Commands  *command.Service
	Assistant *assistant.Assistant

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between serve and
// MCP modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	if obs != nil {
		sc.addCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(ctx)
		})
	}

	// Storage.
	store, err := initStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// LLM provider with observability instrumentation.
	provider := newLLMProvider(cfg, logger)
	if obs != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.MetricsOrNil(), obs.TracerOrNil())
	}
	sc.Provider = provider

	// Sandboxed executor with durable audit trail.
	exec, err := executor.New(executor.Config{
		BaseDir:        cfg.ResolvedWorkspace(),
		Whitelist:      cfg.Executor.Whitelist,
		Blocklist:      cfg.Executor.Blocklist,
		DefaultTimeout: cfg.Executor.DefaultTimeout(),
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing executor: %w", err)
	}
	exec.WithAuditSink(command.NewStoreSink(store, logger))
	sc.Executor = exec
	logger.Debug("executor initialized", slog.String("base_dir", exec.BaseDir()))

	// Event hub and command service.
	sc.Hub = events.NewHub()
	sc.Commands = command.NewService(exec, sc.Hub, obs.MetricsOrNil(), logger)

	// Assistant (role routing + budget enforcement).
	sc.Assistant = assistant.New(provider, store, logger)

	registerHealthChecks(cfg, sc)

	return sc, nil
}

// registerHealthChecks wires readiness probes from the health config.
func registerHealthChecks(cfg *config.Config, sc *SharedComponents) {
	if sc.Obs == nil || sc.Obs.Health == nil || cfg.Observability == nil || cfg.Observability.Health == nil {
		return
	}
	hc := cfg.Observability.Health

	if hc.IncludeDB {
		store := sc.Store
		sc.Obs.Health.AddCheck("database", func(ctx context.Context) error {
			return store.Ping(ctx)
		})
	}

	if hc.IncludeWorkspace {
		root := cfg.ResolvedWorkspace()
		sc.Obs.Health.AddCheck("workspace", func(_ context.Context) error {
			info, err := os.Stat(root)
			if err != nil {
				return fmt.Errorf("workspace root: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("workspace root %s is not a directory", root)
			}
			return nil
		})
	}
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		return initPostgresStore(cfg, logger)
	case "sqlite":
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(storage.SQLiteConfig{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or JACE_DB_DSN)")
	}
	pg := cfg.Storage.Postgres

	return pgstore.Open(storage.PostgresConfig{
		DSN:              pg.DSN,
		MaxOpenConns:     pg.MaxOpenConns,
		MaxIdleConns:     pg.MaxIdleConns,
		ConnMaxLifetimeS: pg.ConnMaxLifetimeS,
	}, logger)
}

// newLLMProvider builds the OpenRouter provider, chaining the fallback
// model behind the primary when one is configured.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) llm.Provider {
	or := cfg.Providers.OpenRouter

	var opts []openrouter.Option
	if or.BaseURL != "" {
		opts = append(opts, openrouter.WithBaseURL(or.BaseURL))
	}
	if or.SiteURL != "" || or.AppName != "" {
		opts = append(opts, openrouter.WithAttribution(or.SiteURL, or.AppName))
	}

	primary := openrouter.NewClient(or.APIKey, or.PrimaryModel(), logger, opts...)

	if secondary := or.SecondaryModel(); secondary != "" && secondary != or.PrimaryModel() {
		fallback := openrouter.NewClient(or.APIKey, secondary, logger, opts...)
		return llm.NewFallbackProvider([]llm.Provider{primary, fallback}, logger)
	}

	return primary
}
