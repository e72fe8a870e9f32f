// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch executes one logical network operation resiliently: it
// acquires rate-limit admission, selects the healthiest endpoint, runs the
// operation, reports the outcome back into the health model, and rotates
// across endpoints within a retry budget.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/scholar-gateway/internal/health"
	"github.com/pdiddy/scholar-gateway/internal/ratelimit"
	"github.com/pdiddy/scholar-gateway/internal/telemetry"
)

const defaultMaxAttempts = 3

// Orchestrator wires a source's admission controller and health monitor
// into its fetches. Either field may be nil: a source without a rate
// contract skips admission, a single-endpoint source skips selection.
type Orchestrator struct {
	// Source names the source, for errors, logs, and metrics.
	Source string

	// Limiter admission-controls the source's quota, when set.
	Limiter *ratelimit.Limiter

	// Monitor selects among the source's mirrors, when set.
	Monitor *health.Monitor

	// MaxAttempts is the live-attempt budget per fetch (default 3).
	MaxAttempts int

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Operation is one endpoint-parameterized network call. endpoint is the
// selected mirror base URL, or empty for single-endpoint sources.
type Operation[T any] func(ctx context.Context, endpoint string) (T, error)

// Do runs op resiliently and returns its result unmodified on success.
//
// Quota (429) and auth (401/403) failures surface immediately: the first
// is the connector's decision to handle, the second cannot be fixed by
// rotation. Any other failure counts against the endpoint's health and
// rotates to the next candidate until the budget is exhausted, at which
// point an *EndpointUnavailableError carrying the last failure is
// returned. No failure is ever swallowed.
func Do[T any](ctx context.Context, o *Orchestrator, op Operation[T]) (T, error) {
	var zero T

	if o.Limiter != nil {
		if err := o.Limiter.Acquire(ctx); err != nil {
			return zero, fmt.Errorf("%s: acquiring admission: %w", o.Source, err)
		}
	}

	maxAttempts := o.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var tried []string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var endpoint string
		if o.Monitor != nil {
			ep, err := o.Monitor.Select(ctx, tried...)
			if err != nil {
				if errors.Is(err, health.ErrNoHealthyEndpoint) {
					o.Metrics.RecordFetchAttempt(o.Source, "exhausted")
					if lastErr == nil {
						lastErr = err
					}
					return zero, &EndpointUnavailableError{Source: o.Source, Attempts: attempt - 1, Err: lastErr}
				}
				return zero, fmt.Errorf("%s: selecting endpoint: %w", o.Source, err)
			}
			endpoint = ep
		}

		result, err := op(ctx, endpoint)
		if err == nil {
			o.Metrics.RecordFetchAttempt(o.Source, "ok")
			return result, nil
		}

		var quotaErr *QuotaError
		if errors.As(err, &quotaErr) {
			o.Metrics.RecordFetchAttempt(o.Source, "quota")
			return zero, err
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			o.Metrics.RecordFetchAttempt(o.Source, "auth")
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: fetch aborted: %w", o.Source, ctx.Err())
		}

		lastErr = err
		o.Metrics.RecordFetchAttempt(o.Source, "transient")
		o.logger().Warn("fetch attempt failed",
			zap.String("source", o.Source),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("budget", maxAttempts),
			zap.Error(err))

		if o.Monitor != nil && endpoint != "" {
			o.Monitor.ReportFailure(endpoint)
			tried = append(tried, endpoint)
		}
	}

	o.Metrics.RecordFetchAttempt(o.Source, "exhausted")
	return zero, &EndpointUnavailableError{Source: o.Source, Attempts: maxAttempts, Err: lastErr}
}
