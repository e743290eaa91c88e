// Package mcpserver exposes the sandboxed executor as an MCP (Model
// Context Protocol) stdio server, so IDEs and agent hosts can drive the
// sandbox with the same validation gates as every other gateway.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaceberelen/jace/internal/command"
)

// Config configures the MCP server.
type Config struct {
	// UserID attributes MCP-driven executions in the audit log.
	// Empty disables audit forwarding.
	UserID string

	// Version reported in the MCP handshake.
	Version string
}

// Gateway is the MCP stdio gateway.
type Gateway struct {
	config   Config
	commands *command.Service
	logger   *slog.Logger

	mcp   *server.MCPServer
	stdio *server.StdioServer
}

// NewGateway creates an MCP gateway over the command service.
func NewGateway(cfg Config, cmds *command.Service, logger *slog.Logger) *Gateway {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	g := &Gateway{config: cfg, commands: cmds, logger: logger}

	s := server.NewMCPServer("jace", cfg.Version,
		server.WithToolCapabilities(false),
	)

	s.AddTool(mcp.NewTool("execute_command",
		mcp.WithDescription("Execute a shell command in the sandboxed task workspace. "+
			"Only whitelisted commands are allowed; results include stdout, stderr, and the exit code."),
		mcp.WithString("command", mcp.Required(), mcp.Description("The shell command to run")),
		mcp.WithString("task_id", mcp.Description("Task identifier for workspace selection")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Wall-clock timeout, default 30")),
	), g.handleExecuteCommand)

	s.AddTool(mcp.NewTool("set_workspace",
		mcp.WithDescription("Create or activate the isolated workspace for a task. "+
			"Commands run inside the active workspace."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), g.handleSetWorkspace)

	s.AddTool(mcp.NewTool("list_workspace_files",
		mcp.WithDescription("List files in the active workspace matching a glob pattern."),
		mcp.WithString("pattern", mcp.Description("Glob pattern, default *")),
	), g.handleListFiles)

	s.AddTool(mcp.NewTool("command_history",
		mcp.WithDescription("Return recent command executions, oldest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 50")),
	), g.handleHistory)

	g.mcp = s
	return g
}

// Start serves MCP over stdin/stdout until the context is canceled or the
// host closes the stream.
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info("mcp gateway starting")
	g.stdio = server.NewStdioServer(g.mcp)
	return g.stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Stop is a no-op: the stdio loop exits when its context is canceled.
func (g *Gateway) Stop(_ context.Context) error {
	g.logger.Info("mcp gateway stopping")
	return nil
}

// --- Tool handlers ---

func (g *Gateway) handleExecuteCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmdText, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	taskID := req.GetString("task_id", "")
	timeout := req.GetInt("timeout_seconds", 0)

	result := g.commands.Execute(ctx, command.Request{
		Command: cmdText,
		UserID:  g.config.UserID,
		TaskID:  taskID,
		Timeout: time.Duration(timeout) * time.Second,
	})

	out := fmt.Sprintf("exit code: %d\n", result.ReturnCode)
	if result.Stdout != "" {
		out += "stdout:\n" + result.Stdout + "\n"
	}
	if result.Stderr != "" {
		out += "stderr:\n" + result.Stderr + "\n"
	}
	if !result.Success {
		return mcp.NewToolResultError(out), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (g *Gateway) handleSetWorkspace(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path, err := g.commands.Executor().SetWorkspace(taskID, g.config.UserID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workspace creation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(path), nil
}

func (g *Gateway) handleListFiles(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")

	files := g.commands.Executor().ListWorkspaceFiles(pattern)
	data, err := json.Marshal(files)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (g *Gateway) handleHistory(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)

	history := g.commands.History(limit)
	type entry struct {
		Command    string `json:"command"`
		Success    bool   `json:"success"`
		ReturnCode int    `json:"return_code"`
		Timestamp  string `json:"timestamp"`
	}
	entries := make([]entry, len(history))
	for i, r := range history {
		entries[i] = entry{
			Command:    r.Command,
			Success:    r.Success,
			ReturnCode: r.ReturnCode,
			Timestamp:  r.Timestamp.Format(time.RFC3339),
		}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
