package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jaceberelen/jace/internal/assistant"
	"github.com/jaceberelen/jace/internal/command"
	"github.com/jaceberelen/jace/internal/executor"
	"github.com/jaceberelen/jace/internal/llm"
	"github.com/jaceberelen/jace/internal/ratelimit"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type fakeProvider struct{ reply string }

func (f *fakeProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: f.reply, Model: "fake"}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	exec, err := executor.New(executor.Config{BaseDir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	if _, err := exec.SetWorkspace("slack", "jace-user"); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	cmds := command.NewService(exec, nil, nil, testLogger())
	asst := assistant.New(&fakeProvider{reply: "Hi there."}, nil, testLogger())

	return NewGateway(Config{
		SigningSecret: testSecret,
		UserMapping:   map[string]string{"U111": "jace-user"},
	}, cmds, asst, nil, testLogger())
}

// signedRequest builds a slash-command request with a valid Slack signature.
func signedRequest(t *testing.T, form url.Values, ts time.Time) *http.Request {
	t.Helper()
	body := form.Encode()
	timestamp := strconv.FormatInt(ts.Unix(), 10)

	mac := hmac.New(sha256.New, []byte(testSecret))
	fmt.Fprintf(mac, "v0:%s:%s", timestamp, body)
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", sig)
	return req
}

func slackText(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%q)", err, rec.Body.String())
	}
	return resp["text"]
}

func TestSignatureVerification(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U111"}, "text": {"help"}}

	t.Run("valid signature", func(t *testing.T) {
		rec := httptest.NewRecorder()
		g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, form, time.Now())
		req.Body = io.NopCloser(strings.NewReader("user_id=U999&text=help"))
		rec := httptest.NewRecorder()
		g.handleSlashCommand(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		rec := httptest.NewRecorder()
		g.handleSlashCommand(rec, signedRequest(t, form, time.Now().Add(-10*time.Minute)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("missing headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(form.Encode()))
		rec := httptest.NewRecorder()
		g.handleSlashCommand(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestUnmappedUserDenied(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U999"}, "text": {"run echo hi"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))

	if got := slackText(t, rec); !strings.Contains(got, "not authorized") {
		t.Errorf("reply = %q, want authorization denial", got)
	}
}

func TestRunCommand(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U111"}, "text": {"run echo from-slack"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))

	got := slackText(t, rec)
	if !strings.Contains(got, "from-slack") || !strings.Contains(got, "exit 0") {
		t.Errorf("reply = %q", got)
	}
}

func TestRunBlockedCommand(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U111"}, "text": {"run sudo rm -rf /"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))

	got := slackText(t, rec)
	if !strings.Contains(got, ":x:") || !strings.Contains(got, "Blocked dangerous pattern") {
		t.Errorf("reply = %q, want blocked-pattern rejection", got)
	}
}

func TestRateLimitReplyNamesWait(t *testing.T) {
	g := newTestGateway(t)
	g.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 60, BurstSize: 1})
	form := url.Values{"user_id": {"U111"}, "text": {"help"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))
	if strings.Contains(slackText(t, rec), "Rate limit") {
		t.Fatal("first request should not be limited")
	}

	rec = httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))
	reply := slackText(t, rec)
	if !strings.Contains(reply, "Try again in") {
		t.Errorf("limited reply = %q, want retry hint", reply)
	}
}

func TestFreeTextChat(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U111"}, "text": {"hello there"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))

	if got := slackText(t, rec); got != "Hi there." {
		t.Errorf("reply = %q", got)
	}
}

func TestHelp(t *testing.T) {
	g := newTestGateway(t)
	form := url.Values{"user_id": {"U111"}, "text": {"help"}}

	rec := httptest.NewRecorder()
	g.handleSlashCommand(rec, signedRequest(t, form, time.Now()))

	if got := slackText(t, rec); !strings.Contains(got, "/jace run") {
		t.Errorf("reply = %q, want usage text", got)
	}
}
