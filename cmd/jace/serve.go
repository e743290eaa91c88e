package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/config"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/gateway"
	"github.com/jaceberelen/jace/internal/gateway/httpapi"
	"github.com/jaceberelen/jace/internal/gateway/slack"
	"github.com/jaceberelen/jace/internal/pipeline"
	"github.com/jaceberelen/jace/internal/ratelimit"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start Jace in serve mode (HTTP API, Slack, pipeline)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so `jace` and `jace serve`
	// behave identically.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts Jace in serve mode: enabled gateways plus the optional
// file pipeline, all sharing one executor, store, and provider.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("JACE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting in serve mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start the file pipeline (optional).
	if cfg.Pipeline != nil && cfg.Pipeline.Enabled {
		stopPipeline, err := startPipeline(cfg, sc)
		if err != nil {
			return err
		}
		defer stopPipeline()
	}

	// Build enabled gateways.
	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		if cfg.Pipeline == nil || !cfg.Pipeline.Enabled {
			logger.Warn("no gateways or pipeline enabled in config; nothing to do")
			return nil
		}
		logger.Info("no gateways enabled, running pipeline only")
		<-ctx.Done()
		return nil
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// startPipeline builds the pipeline on a dedicated executor so task files
// never mix with user workspaces, then starts the cron scan.
func startPipeline(cfg *config.Config, sc *SharedComponents) (func(), error) {
	exec, err := executor.New(executor.Config{
		BaseDir:        cfg.PipelineDir(),
		Whitelist:      cfg.Executor.Whitelist,
		Blocklist:      cfg.Executor.Blocklist,
		DefaultTimeout: cfg.Executor.DefaultTimeout(),
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
	}, sc.Logger)
	if err != nil {
		return nil, err
	}
	exec.WithAuditSink(command.NewStoreSink(sc.Store, sc.Logger))

	p, err := pipeline.New(pipeline.Config{
		Schedule:  cfg.Pipeline.CronSchedule(),
		GitCommit: cfg.Pipeline.GitCommit,
	}, sc.Provider, exec, sc.Obs.MetricsOrNil(), sc.Logger)
	if err != nil {
		return nil, err
	}

	stopScan, err := p.Start(context.Background())
	if err != nil {
		return nil, err
	}

	sc.Logger.Info("pipeline started",
		slog.String("root", p.Root()),
		slog.String("schedule", cfg.Pipeline.CronSchedule()),
	)
	return stopScan, nil
}

// buildGateways constructs the gateways enabled in config.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gateways []gateway.Gateway

	if h := cfg.Gateways.HTTP; h != nil && h.Enabled {
		hcfg := httpapi.Config{
			ListenAddr:     h.Addr(),
			EnableDocs:     h.EnableDocs,
			APIKeys:        h.APIKeyUserMapping,
			MaxRequestSize: h.MaxRequestSizeBytes,
		}
		if obs := sc.Obs; obs != nil {
			if obs.Metrics != nil {
				hcfg.MetricsRegistry = obs.Metrics.Registry
				if cfg.Observability.Metrics != nil {
					hcfg.MetricsPath = cfg.Observability.Metrics.Path
				}
				hcfg.Metrics = obs.Metrics
			}
			if obs.Tracer != nil {
				hcfg.Tracer = obs.Tracer.Tracer()
			}
			hcfg.HealthChecker = obs.Health
		}

		gw := httpapi.NewGateway(hcfg, sc.Commands, sc.Assistant, newLimiter(h.RateLimit), sc.Logger).
			WithStore(sc.Store).
			WithEvents(sc.Hub)
		gateways = append(gateways, gw)
	}

	if s := cfg.Gateways.Slack; s != nil && s.Enabled {
		gw := slack.NewGateway(slack.Config{
			SigningSecret: s.SigningSecret,
			BotToken:      s.BotToken,
			ListenAddr:    s.Addr(),
			UserMapping:   s.UserMapping,
		}, sc.Commands, sc.Assistant, newLimiter(s.RateLimit), sc.Logger)
		gateways = append(gateways, gw)
	}

	return gateways
}

func newLimiter(cfg config.RateLimitConfig) *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.BurstSize,
	})
}
