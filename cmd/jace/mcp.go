package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jaceberelen/jace/internal/config"
	"github.com/jaceberelen/jace/internal/gateway/mcpserver"
)

var (
	mcpConfigPath string
	mcpUser       string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve executor tools over MCP on stdin/stdout",
	RunE:  runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	mcpCmd.Flags().StringVar(&mcpUser, "user", "mcp", "user ID recorded in the audit log for MCP-driven executions")
}

// runMCP starts the MCP stdio server. Stdout carries the protocol, so all
// logging goes to stderr.
func runMCP(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	cfg, err := config.Load(goutils.Env("JACE_CONFIG", mcpConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := mcpserver.NewGateway(mcpserver.Config{
		UserID:  mcpUser,
		Version: version,
	}, sc.Commands, logger)

	return gw.Start(ctx)
}
