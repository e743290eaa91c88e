package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/events"
	"github.com/jaceberelen/jace/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveAPIKey(t *testing.T) {
	g := &Gateway{config: Config{APIKeys: map[string]string{
		"key-alpha": "alice",
		"key-beta":  "bob",
	}}}

	tests := []struct {
		key  string
		want string
	}{
		{"key-alpha", "alice"},
		{"key-beta", "bob"},
		{"key-gamma", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := g.resolveAPIKey(tt.key); got != tt.want {
			t.Errorf("resolveAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", ""},
		{"Basic abc123", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestToCommandResponse(t *testing.T) {
	now := time.Now().UTC()
	r := &executor.CommandResult{
		Success:          true,
		Stdout:           "hello\n",
		ReturnCode:       0,
		ExecutionTime:    1500 * time.Millisecond,
		Command:          "echo hello",
		WorkingDirectory: "/tmp/ws",
		Timestamp:        now,
	}
	resp := toCommandResponse(r)
	if resp.DurationMS != 1500 {
		t.Errorf("DurationMS = %d, want 1500", resp.DurationMS)
	}
	if resp.Command != "echo hello" || !resp.Success || resp.Timestamp != now {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestEventStream(t *testing.T) {
	hub := events.NewHub()
	exec, err := executor.New(executor.Config{BaseDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	g := NewGateway(Config{APIKeys: map[string]string{"stream-key": "alice"}},
		command.NewService(exec, hub, nil, testLogger()), nil, nil, testLogger()).
		WithEvents(hub)

	srv := httptest.NewServer(http.HandlerFunc(g.handleEvents))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"?token=stream-key", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the server a moment to register the subscription.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Subscribers() == 0 {
		t.Fatal("subscriber never registered")
	}

	hub.Publish(events.Event{
		Type:    events.EventCommandExecuted,
		Command: "echo streamed",
		Success: true,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Command != "echo streamed" || ev.Type != events.EventCommandExecuted {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestEventStreamRejectsBadToken(t *testing.T) {
	hub := events.NewHub()
	g := (&Gateway{
		config: Config{APIKeys: map[string]string{"good": "alice"}},
		hub:    hub,
		logger: testLogger(),
	})

	srv := httptest.NewServer(http.HandlerFunc(g.handleEvents))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?token=bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
