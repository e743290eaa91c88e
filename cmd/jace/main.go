// Jace — AI workforce assistant with a sandboxed command executor.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jace",
	Short: "Jace — AI workforce assistant with sandboxed command execution.",
	Long: `Jace is an AI assistant that delegates work to specialized roles and runs
shell commands inside whitelisted, per-task sandboxed workspaces. It serves
an HTTP API, a Slack slash-command gateway, and an MCP stdio server, and can
drive a file-based task pipeline on a schedule.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
