// Package httpapi implements the HTTP API gateway for Jace.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaceberelen/jace/internal/assistant"
	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/events"
	"github.com/jaceberelen/jace/internal/observability"
	"github.com/jaceberelen/jace/internal/ratelimit"
	"github.com/jaceberelen/jace/internal/storage"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string            // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config    Config
	commands  *command.Service
	assistant *assistant.Assistant
	store     storage.Store // nil = task endpoints disabled.
	hub       *events.Hub   // nil = event stream disabled.
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, cmds *command.Service, asst *assistant.Assistant, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	size := cfg.MaxRequestSize
	if size <= 0 {
		size = defaultMaxRequestSize
	}
	return &Gateway{
		config:    cfg,
		commands:  cmds,
		assistant: asst,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(size)),
	}
}

// WithStore attaches task persistence, enabling the /v1/tasks endpoints.
func (g *Gateway) WithStore(store storage.Store) *Gateway {
	g.store = store
	return g
}

// WithEvents attaches the event hub, enabling the /v1/events stream.
func (g *Gateway) WithEvents(hub *events.Hub) *Gateway {
	g.hub = hub
	return g
}

// WithOpenAPIDocs enables interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Jace",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.Use(observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a chat message to the assistant"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/roles", g.handleRoles,
		okapi.DocSummary("List assistant roles"),
		okapi.DocTags("Chat"),
		okapi.DocResponse([]assistant.RoleInfo{}),
	)

	g.group.Post("/commands", g.handleCommandExecute,
		okapi.DocSummary("Execute a sandboxed shell command"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(CommandRequest{}),
		okapi.DocResponse(CommandResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/commands/aws", g.handleAWSCommand,
		okapi.DocSummary("Execute an AWS CLI command"),
		okapi.DocTags("Commands"),
		okapi.DocRequestBody(AWSCommandRequest{}),
		okapi.DocResponse(CommandResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/commands/history", g.handleCommandHistory,
		okapi.DocSummary("List recent command executions"),
		okapi.DocTags("Commands"),
		okapi.DocResponse([]CommandResponse{}),
	)
	g.group.Get("/commands/allowed", g.handleAllowedCommands,
		okapi.DocSummary("List the command whitelist"),
		okapi.DocTags("Commands"),
		okapi.DocResponse(map[string][]string{}),
	)

	g.group.Post("/workspaces", g.handleWorkspaceSet,
		okapi.DocSummary("Create or activate a task workspace"),
		okapi.DocTags("Workspaces"),
		okapi.DocRequestBody(WorkspaceRequest{}),
		okapi.DocResponse(WorkspaceResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/workspaces/files", g.handleWorkspaceFiles,
		okapi.DocSummary("List files in the active workspace"),
		okapi.DocTags("Workspaces"),
		okapi.DocResponse(WorkspaceFilesResponse{}),
	)
	g.group.Delete("/workspaces/{taskID}", g.handleWorkspaceCleanup,
		okapi.DocSummary("Remove a task workspace"),
		okapi.DocTags("Workspaces"),
		okapi.DocPathParam("taskID", "string", "Task identifier"),
		okapi.DocResponse(WorkspaceCleanupResponse{}),
	)

	if g.store != nil {
		g.group.Post("/tasks", g.handleTaskCreate,
			okapi.DocSummary("Create a delegated task"),
			okapi.DocTags("Tasks"),
			okapi.DocRequestBody(TaskCreateRequest{}),
			okapi.DocResponse(http.StatusCreated, TaskResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/tasks", g.handleTaskList,
			okapi.DocSummary("List the caller's tasks"),
			okapi.DocTags("Tasks"),
			okapi.DocResponse([]TaskResponse{}),
		)
	}

	if g.assistant != nil {
		g.group.Get("/usage", g.handleUsage,
			okapi.DocSummary("Daily AI spend for the caller"),
			okapi.DocTags("Usage"),
			okapi.DocResponse(UsageResponse{}),
		)
	}

	// WebSocket event stream sits outside the okapi group: the upgrade
	// handshake needs the raw http.ResponseWriter.
	if g.hub != nil {
		g.okapi.HandleStd("GET", "/v1/events", g.handleEvents)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID in the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		userID := g.resolveAPIKey(bearerToken(c.Header("Authorization")))
		if userID == "" {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// resolveAPIKey maps an API key to a user ID with constant-time comparison.
// Every configured key is compared so timing does not leak which key failed.
func (g *Gateway) resolveAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	userID := ""
	for key, mapped := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			userID = mapped
		}
	}
	return userID
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
