package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (s *stubProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	return s.resp, s.err
}

func (s *stubProvider) Name() string { return s.name }

func TestFallbackPrimarySucceeds(t *testing.T) {
	primary := &stubProvider{name: "primary", resp: &Response{Content: "ok"}}
	backup := &stubProvider{name: "backup", resp: &Response{Content: "backup"}}
	f := NewFallbackProvider([]Provider{primary, backup}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if backup.calls != 0 {
		t.Error("backup should not be consulted when primary succeeds")
	}
}

func TestFallbackUsesNextProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("overloaded")}
	backup := &stubProvider{name: "backup", resp: &Response{Content: "backup"}}
	f := NewFallbackProvider([]Provider{primary, backup}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = (%d, %d)", primary.calls, backup.calls)
	}
}

func TestFallbackAllFail(t *testing.T) {
	last := errors.New("still down")
	f := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: last},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.Complete(context.Background(), &Request{})
	if !errors.Is(err, last) {
		t.Errorf("expected last error wrapped, got %v", err)
	}
}

func TestFallbackSkipsBackupsOnDeadContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &cancellingProvider{cancel: cancel}
	backup := &stubProvider{name: "backup", resp: &Response{Content: "backup"}}
	f := NewFallbackProvider([]Provider{primary, backup}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := f.Complete(ctx, &Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled wrapped, got %v", err)
	}
	if backup.calls != 0 {
		t.Error("backup should not be consulted once the caller gave up")
	}
}

// cancellingProvider simulates a request aborted mid-flight.
type cancellingProvider struct {
	cancel context.CancelFunc
}

func (c *cancellingProvider) Complete(ctx context.Context, _ *Request) (*Response, error) {
	c.cancel()
	return nil, ctx.Err()
}

func (c *cancellingProvider) Name() string { return "primary" }

func TestFallbackName(t *testing.T) {
	chain := NewFallbackProvider([]Provider{
		&stubProvider{name: "primary"},
		&stubProvider{name: "backup"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if chain.Name() != "primary+fallback" {
		t.Errorf("chain Name() = %q", chain.Name())
	}

	single := NewFallbackProvider([]Provider{&stubProvider{name: "primary"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if single.Name() != "primary" {
		t.Errorf("single Name() = %q", single.Name())
	}
}
