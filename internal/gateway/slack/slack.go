// Package slack implements the Slack gateway for Jace using slash
// commands.
//
// Security:
//   - Every request verified via HMAC-SHA256 signature (Slack signing secret)
//   - Replay protection: rejects requests with timestamps older than 5 minutes
//   - User mapping: Slack user IDs mapped to Jace user IDs (default-deny for unmapped)
//   - Signing secret and bot token from environment variables, never config files
//   - All requests logged with correlation IDs
package slack

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaceberelen/jace/internal/assistant"
	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/ratelimit"
)

const (
	maxSlackRequestSize = 256 << 10 // 256 KB — Slack payloads are small
	signatureMaxAge     = 5 * time.Minute

	// slackReplyLimit truncates command output so replies stay inside
	// Slack's message size limit.
	slackReplyLimit = 3000
)

// Config configures the Slack gateway.
type Config struct {
	SigningSecret string            // HMAC signing secret (from SLACK_SIGNING_SECRET env var).
	BotToken      string            // Bot token xoxb-... (from SLACK_BOT_TOKEN env var).
	ListenAddr    string            // Webhook listen address, e.g. ":8082".
	UserMapping   map[string]string // Slack user ID → Jace user ID. Unmapped = deny.
}

// Gateway is the Slack gateway.
type Gateway struct {
	config    Config
	commands  *command.Service
	assistant *assistant.Assistant
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
}

// NewGateway creates a Slack gateway.
func NewGateway(cfg Config, cmds *command.Service, asst *assistant.Assistant, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		commands:  cmds,
		assistant: asst,
		limiter:   rl,
		logger:    logger,
	}
}

// Start launches the webhook HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /slack/commands", g.handleSlashCommand)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("slack gateway starting", slog.String("addr", g.config.ListenAddr))

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the Slack webhook server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("slack gateway stopping")
	return g.server.Shutdown(ctx)
}

// --- Slash Commands ---

func (g *Gateway) handleSlashCommand(w http.ResponseWriter, r *http.Request) {
	body, err := g.readAndVerify(r)
	if err != nil {
		g.logger.Warn("slack signature verification failed", slog.String("error", err.Error()))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	slackUserID := values.Get("user_id")
	text := strings.TrimSpace(values.Get("text"))
	channelID := values.Get("channel_id")

	// Map Slack user to Jace user (default-deny).
	userID, ok := g.config.UserMapping[slackUserID]
	if !ok {
		g.logger.Warn("unmapped slack user denied",
			slog.String("slack_user_id", slackUserID),
		)
		writeSlackResponse(w, "You are not authorized to use Jace.")
		return
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			reply := "Rate limit exceeded. Please wait before trying again."
			var le *ratelimit.LimitError
			if errors.As(err, &le) {
				reply = fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.",
					int(math.Ceil(le.RetryAfter.Seconds())))
			}
			writeSlackResponse(w, reply)
			return
		}
	}

	correlationID := newCorrelationID()

	g.logger.Info("slack command",
		slog.String("user_id", userID),
		slog.String("slack_user_id", slackUserID),
		slog.String("correlation_id", correlationID),
		slog.String("channel_id", channelID),
	)

	subcommand, rest := splitSubcommand(text)
	switch subcommand {
	case "run":
		g.runCommand(r.Context(), w, userID, rest)
	case "tasks":
		g.listHistory(w)
	case "help", "":
		writeSlackResponse(w, helpText)
	default:
		// Everything else is free-text chat.
		g.chat(r.Context(), w, userID, text)
	}
}

const helpText = "Usage:\n" +
	"`/jace run <command>` — execute a sandboxed shell command\n" +
	"`/jace tasks` — show recent command executions\n" +
	"`/jace <anything else>` — chat with the assistant"

// splitSubcommand separates the leading keyword from the remainder.
func splitSubcommand(text string) (string, string) {
	parts := strings.SplitN(text, " ", 2)
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return strings.ToLower(parts[0]), rest
}

func (g *Gateway) runCommand(ctx context.Context, w http.ResponseWriter, userID, cmdText string) {
	if cmdText == "" {
		writeSlackResponse(w, "Usage: `/jace run <command>`")
		return
	}

	result := g.commands.Execute(ctx, command.Request{
		Command: cmdText,
		UserID:  userID,
	})

	var sb strings.Builder
	if result.Success {
		sb.WriteString(":white_check_mark: ")
	} else {
		sb.WriteString(":x: ")
	}
	fmt.Fprintf(&sb, "`%s` (exit %d)\n", result.Command, result.ReturnCode)
	if result.Stdout != "" {
		fmt.Fprintf(&sb, "```%s```\n", truncate(result.Stdout, slackReplyLimit))
	}
	if result.Stderr != "" {
		fmt.Fprintf(&sb, "stderr:\n```%s```", truncate(result.Stderr, slackReplyLimit))
	}
	writeSlackResponse(w, sb.String())
}

func (g *Gateway) listHistory(w http.ResponseWriter) {
	history := g.commands.History(10)
	if len(history) == 0 {
		writeSlackResponse(w, "No commands executed yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Recent commands:\n")
	for _, r := range history {
		mark := ":x:"
		if r.Success {
			mark = ":white_check_mark:"
		}
		fmt.Fprintf(&sb, "%s `%s` (exit %d)\n", mark, r.Command, r.ReturnCode)
	}
	writeSlackResponse(w, sb.String())
}

func (g *Gateway) chat(ctx context.Context, w http.ResponseWriter, userID, text string) {
	reply, err := g.assistant.Process(ctx, assistant.Request{
		Role:        assistant.RouteRole(text),
		Prompt:      text,
		SlackUserID: userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrBudgetExceeded):
			writeSlackResponse(w, "Daily AI budget exhausted. Try again tomorrow.")
		case errors.Is(err, assistant.ErrUserInactive):
			writeSlackResponse(w, "Your account is deactivated.")
		default:
			g.logger.Error("slack chat failed", slog.String("error", err.Error()))
			writeSlackResponse(w, "Error processing your request.")
		}
		return
	}
	writeSlackResponse(w, truncate(reply.Content, slackReplyLimit))
}

// --- Signature Verification ---

// readAndVerify reads the request body and verifies the Slack HMAC-SHA256
// signature. This prevents request forgery and replay attacks.
func (g *Gateway) readAndVerify(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackRequestSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	defer r.Body.Close()

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")

	if timestamp == "" || signature == "" {
		return nil, fmt.Errorf("missing signature headers")
	}

	// Replay protection: reject requests older than 5 minutes.
	ts, err := parseUnixTimestamp(timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	if time.Since(ts) > signatureMaxAge {
		return nil, fmt.Errorf("request too old (%v ago)", time.Since(ts))
	}

	// Expected signature: v0=hmac_sha256(secret, "v0:{timestamp}:{body}")
	baseString := fmt.Sprintf("v0:%s:%s", timestamp, string(body))
	mac := hmac.New(sha256.New, []byte(g.config.SigningSecret))
	mac.Write([]byte(baseString))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}

// --- Helpers ---

func writeSlackResponse(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"response_type": "ephemeral",
		"text":          text,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseUnixTimestamp(s string) (time.Time, error) {
	var ts int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("non-numeric timestamp: %q", s)
		}
		ts = ts*10 + int64(c-'0')
		if ts > math.MaxInt64/10 {
			return time.Time{}, fmt.Errorf("timestamp overflow: %q", s)
		}
	}
	return time.Unix(ts, 0), nil
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
