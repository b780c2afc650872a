package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures error capture via Sentry, bound from the
// unprefixed SENTRY_DSN and DEPLOYMENT_ID environment variables rather
// than Transit's own TRANSIT_ prefix scheme.
type SentryConfig struct {
	DSN          string
	DeploymentID string
	Environment  string
}

// InitSentry initializes the Sentry SDK when a DSN is configured. It is a
// no-op (and returns a flush function that does nothing) when DSN is empty, so deployments
// that don't set SENTRY_DSN incur no cost.
func InitSentry(cfg SentryConfig) (flush func(), err error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Release:     cfg.DeploymentID,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError reports err to Sentry, tagging it with each entry of tags; it
// reads no tags from ctx itself. It is safe to call even when Sentry was
// never initialized.
func CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}
