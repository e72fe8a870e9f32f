// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import "fmt"

// QuotaError reports an upstream rate rejection (HTTP 429). The resilience
// layer never auto-retries it across endpoints; the connector decides how
// to proceed.
type QuotaError struct {
	Source string
	Err    error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: upstream quota exceeded: %v", e.Source, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// AuthError reports a 401/403 from a metered source. It is fatal for the
// call: rotating endpoints cannot fix a bad credential.
type AuthError struct {
	Source     string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (HTTP %d)", e.Source, e.StatusCode)
}

// TransientError reports a single-endpoint timeout, connection failure, or
// unusable response. It triggers endpoint rotation within the retry budget.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transient failure: %v", e.Err)
	}
	return fmt.Sprintf("transient failure at %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// EndpointUnavailableError is terminal for one fetch: every attempted
// endpoint failed within the retry budget.
type EndpointUnavailableError struct {
	Source   string
	Attempts int
	Err      error // last underlying failure
}

func (e *EndpointUnavailableError) Error() string {
	return fmt.Sprintf("%s: no endpoint available after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *EndpointUnavailableError) Unwrap() error { return e.Err }
