package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider degrades to backup providers when the primary fails.
// The usual configuration is the same backend with a cheaper model as the
// single backup, so a primary-model outage degrades instead of failing.
type FallbackProvider struct {
	primary Provider
	backups []Provider
	logger  *slog.Logger
}

// NewFallbackProvider creates a provider that tries each provider in
// order. At least one provider is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) *FallbackProvider {
	if len(providers) == 0 {
		panic("FallbackProvider requires at least one provider")
	}
	return &FallbackProvider{
		primary: providers[0],
		backups: providers[1:],
		logger:  logger,
	}
}

// Complete tries the primary, then each backup in order. A dead context
// stops the cascade: once the caller has given up, every further attempt
// would fail the same way and only burn request quota.
func (f *FallbackProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	attempts := []error{fmt.Errorf("%s: %w", f.primary.Name(), err)}
	for _, backup := range f.backups {
		if ctx.Err() != nil {
			break
		}
		f.logger.WarnContext(ctx, "provider failed, trying backup",
			slog.String("failed", attempts[len(attempts)-1].Error()),
			slog.String("backup", backup.Name()),
		)

		resp, err = backup.Complete(ctx, req)
		if err == nil {
			f.logger.InfoContext(ctx, "backup provider served the request",
				slog.String("provider", backup.Name()),
			)
			return resp, nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", backup.Name(), err))
	}

	return nil, fmt.Errorf("%d provider(s) failed: %w", len(attempts), errors.Join(attempts...))
}

// Name identifies the chain by its primary.
func (f *FallbackProvider) Name() string {
	if len(f.backups) == 0 {
		return f.primary.Name()
	}
	return f.primary.Name() + "+fallback"
}
