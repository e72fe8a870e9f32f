// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package health tracks the reachability of a source's mirror endpoints.
// A Monitor probes every mirror concurrently, ranks them by health and
// latency, and opens a per-endpoint circuit after repeated failures so
// live traffic avoids dead mirrors until a later probe revives them.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/scholar-gateway/internal/telemetry"
)

// ErrNoHealthyEndpoint is returned by Select when, even after a forced
// probe round, no endpoint answers successfully.
var ErrNoHealthyEndpoint = errors.New("health: no healthy endpoint available")

// ErrClosed is returned once the monitor has been shut down.
var ErrClosed = errors.New("health: monitor closed")

const (
	// failureThreshold is the consecutive-failure count that opens an
	// endpoint's circuit.
	failureThreshold = 3

	defaultProbeInterval = 5 * time.Minute
	defaultProbeTimeout  = 5 * time.Second

	// probeBodyLimit caps how much of a probe response is read when
	// checking validity markers.
	probeBodyLimit = 64 << 10
)

// State is an endpoint's circuit-breaker state.
type State int

const (
	// StateUnknown means the endpoint has never been probed.
	StateUnknown State = iota
	// StateHealthy means the last probe succeeded.
	StateHealthy
	// StateDegraded means one or two consecutive failures were observed.
	StateDegraded
	// StateOpen means the circuit is open: the failure threshold was
	// reached and only a successful probe closes it again.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// endpoint is one mirror's health record. Transitions are driven only by
// probe results and reported fetch outcomes.
type endpoint struct {
	url                 string
	state               State
	consecutiveFailures int
	lastProbe           time.Time
	lastProbeFailed     bool
	latency             time.Duration
}

// recordSuccess closes the circuit regardless of prior state.
func (e *endpoint) recordSuccess(latency time.Duration, at time.Time) {
	e.state = StateHealthy
	e.consecutiveFailures = 0
	e.latency = latency
	e.lastProbe = at
	e.lastProbeFailed = false
}

// recordFailure counts a failure and opens the circuit at the threshold.
func (e *endpoint) recordFailure() {
	e.consecutiveFailures++
	if e.consecutiveFailures >= failureThreshold {
		e.state = StateOpen
	} else {
		e.state = StateDegraded
	}
}

// selectable reports whether the endpoint may receive live traffic. A
// degraded endpoint stays selectable while its last probe succeeded: live
// failures only remove it from rotation once the circuit opens.
func (e *endpoint) selectable() bool {
	return (e.state == StateHealthy || e.state == StateDegraded) && !e.lastProbeFailed
}

// Config constructs a Monitor.
type Config struct {
	// Source names the source the mirrors belong to, for logs and metrics.
	Source string

	// Endpoints lists the mirror base URLs in configuration order.
	Endpoints []string

	// ProbePath is appended to each base URL for probe requests.
	ProbePath string

	// Validate inspects a probe response body for source-specific
	// validity markers, rejecting captive portals and placeholder pages.
	// Nil accepts any 200 response.
	Validate func(body []byte) bool

	// ProbeInterval is the staleness window after which Select re-probes
	// (default 5m). The monitor also re-probes on this period in the
	// background.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each individual probe request (default 5s).
	ProbeTimeout time.Duration

	Client  *http.Client
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Monitor owns the health state of one source's mirror set. All methods
// are safe for concurrent use.
type Monitor struct {
	source        string
	probePath     string
	validate      func([]byte) bool
	probeInterval time.Duration
	probeTimeout  time.Duration
	client        *http.Client
	logger        *zap.Logger
	metrics       *telemetry.Metrics

	// probeMu serializes probe rounds so concurrent Select calls share
	// one in-flight round instead of stampeding the mirrors.
	probeMu sync.Mutex

	mu        sync.Mutex
	endpoints []*endpoint
	lastProbe time.Time
	closed    bool

	stop chan struct{}
	done chan struct{}
}

// New creates a monitor for cfg.Endpoints and starts the background
// re-probe loop. Call Close to stop it. Endpoints start in StateUnknown;
// the first Select triggers the initial probe round.
func New(cfg Config) (*Monitor, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("health: at least one endpoint is required")
	}

	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		source:        cfg.Source,
		probePath:     cfg.ProbePath,
		validate:      cfg.Validate,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		client:        client,
		logger:        logger.With(zap.String("source", cfg.Source)),
		metrics:       cfg.Metrics,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, u := range cfg.Endpoints {
		m.endpoints = append(m.endpoints, &endpoint{url: u})
	}

	go m.reprobeLoop()
	return m, nil
}

// Select returns the best selectable endpoint, probing first when the
// monitor's data is stale. Endpoints in exclude are skipped, letting the
// caller rotate past mirrors that already failed its request. A degraded
// endpoint whose last probe succeeded remains in rotation until its
// circuit opens. When nothing is selectable a probe round is forced;
// Select fails only if that round leaves zero selectable endpoints.
func (m *Monitor) Select(ctx context.Context, exclude ...string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	stale := time.Since(m.lastProbe) >= m.probeInterval
	m.mu.Unlock()

	if stale {
		m.probeRound(ctx, false)
	}

	if url := m.best(exclude); url != "" {
		return url, nil
	}

	// Probing again cannot help when selectable endpoints exist but the
	// caller excluded them all.
	if m.selectableCount() > 0 {
		return "", ErrNoHealthyEndpoint
	}

	m.probeRound(ctx, true)

	if url := m.best(exclude); url != "" {
		return url, nil
	}
	return "", ErrNoHealthyEndpoint
}

// ReportFailure records a live fetch failure against an endpoint, applying
// the same failure-counting rule as a probe failure so traffic depresses a
// mirror's health without waiting for the next scheduled probe.
func (m *Monitor) ReportFailure(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.url != url {
			continue
		}
		e.recordFailure()
		m.metrics.SetCircuitOpen(m.source, e.url, e.state == StateOpen)
		m.logger.Warn("fetch failure reported against endpoint",
			zap.String("endpoint", e.url),
			zap.Int("consecutive_failures", e.consecutiveFailures),
			zap.Stringer("state", e.state))
		m.sortLocked()
		return
	}
}

// ForceHealthCheck runs an immediate probe round, for diagnostics and ops
// tooling.
func (m *Monitor) ForceHealthCheck(ctx context.Context) {
	m.probeRound(ctx, true)
}

// MirrorStatus is one mirror's externally visible health.
type MirrorStatus struct {
	URL            string `json:"url" yaml:"url"`
	Status         string `json:"status" yaml:"status"` // "Working" or "Failed"
	ResponseTimeMs int64  `json:"response_time_ms,omitempty" yaml:"response_time_ms,omitempty"`
}

// MirrorStatus reports every mirror in the monitor's current ranking
// order: healthy mirrors first, fastest first within each group.
func (m *Monitor) MirrorStatus() []MirrorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MirrorStatus, 0, len(m.endpoints))
	for _, e := range m.endpoints {
		s := MirrorStatus{URL: e.url, Status: "Failed"}
		if e.state == StateHealthy {
			s.Status = "Working"
			s.ResponseTimeMs = e.latency.Milliseconds()
		}
		out = append(out, s)
	}
	return out
}

// Close stops the background re-probe loop. It is safe to call more than
// once.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done
}

func (m *Monitor) reprobeLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeRound(context.Background(), false)
		}
	}
}

// probeRound checks every endpoint concurrently and re-ranks the set.
// Rounds are serialized; a caller that blocked behind an in-flight round
// skips its own when the finished round already refreshed the data,
// unless force is set.
func (m *Monitor) probeRound(ctx context.Context, force bool) {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if !force && time.Since(m.lastProbe) < m.probeInterval {
		m.mu.Unlock()
		return
	}
	urls := make([]string, len(m.endpoints))
	for i, e := range m.endpoints {
		urls[i] = e.url
	}
	m.mu.Unlock()

	type outcome struct {
		ok      bool
		latency time.Duration
		err     error
	}
	outcomes := make([]outcome, len(urls))

	// Settle-all: one slow or unreachable mirror must not delay the
	// evaluation of the others.
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			latency, err := m.probeOne(ctx, u)
			outcomes[i] = outcome{ok: err == nil, latency: latency, err: err}
		}(i, u)
	}
	wg.Wait()

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		// ReportFailure may have re-ranked the set while the round was
		// in flight, so match outcomes by URL rather than by position.
		idx := indexOf(urls, e.url)
		if idx < 0 {
			continue
		}
		o := outcomes[idx]
		if o.ok {
			e.recordSuccess(o.latency, now)
			m.metrics.RecordProbe(m.source, e.url, "ok")
		} else {
			e.recordFailure()
			e.lastProbe = now
			e.lastProbeFailed = true
			m.metrics.RecordProbe(m.source, e.url, "failed")
			m.logger.Warn("probe failed",
				zap.String("endpoint", e.url),
				zap.Error(o.err),
				zap.Int("consecutive_failures", e.consecutiveFailures))
		}
		m.metrics.SetCircuitOpen(m.source, e.url, e.state == StateOpen)
	}
	m.lastProbe = now
	m.sortLocked()
}

// probeOne issues a single bounded-timeout probe. Success requires HTTP
// 200 and, when a validator is configured, the source's validity markers
// in the body.
func (m *Monitor) probeOne(ctx context.Context, base string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+m.probePath, nil)
	if err != nil {
		return 0, fmt.Errorf("creating probe request: %w", err)
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
	if err != nil {
		return 0, fmt.Errorf("reading probe response: %w", err)
	}
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	if m.validate != nil && !m.validate(body) {
		return 0, fmt.Errorf("probe response missing validity markers")
	}
	return latency, nil
}

// best returns the first selectable, non-excluded endpoint in ranking
// order.
func (m *Monitor) best(exclude []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if !e.selectable() {
			continue
		}
		if contains(exclude, e.url) {
			continue
		}
		return e.url
	}
	return ""
}

func (m *Monitor) selectableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.endpoints {
		if e.selectable() {
			n++
		}
	}
	return n
}

// sortLocked ranks healthy endpoints first, then degraded-but-selectable
// ones, ascending latency within each group. Caller holds m.mu.
func (m *Monitor) sortLocked() {
	rank := func(e *endpoint) int {
		switch {
		case e.state == StateHealthy:
			return 0
		case e.selectable():
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(m.endpoints, func(i, j int) bool {
		a, b := m.endpoints[i], m.endpoints[j]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		return a.latency < b.latency
	})
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func indexOf(set []string, s string) int {
	for i, v := range set {
		if v == s {
			return i
		}
	}
	return -1
}
