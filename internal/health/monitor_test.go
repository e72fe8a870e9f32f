// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scholar-gateway/internal/telemetry"
)

const testMarker = "mirror-ok"

// okServer answers 200 with the validity marker after an optional delay.
func okServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		fmt.Fprint(w, testMarker)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func markerValidator(body []byte) bool {
	return string(body) == testMarker
}

// flagServer answers 200 with the validity marker while healthy is set and
// 503 otherwise.
func flagServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, testMarker)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = "test"
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = time.Hour // keep the background loop quiet
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 200 * time.Millisecond
	}
	if cfg.Validate == nil {
		cfg.Validate = markerValidator
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewRequiresEndpoints(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestEndpointStateMachine(t *testing.T) {
	e := &endpoint{url: "http://a"}
	assert.Equal(t, StateUnknown, e.state)

	e.recordFailure()
	assert.Equal(t, StateDegraded, e.state)
	e.recordFailure()
	assert.Equal(t, StateDegraded, e.state)
	e.recordFailure()
	assert.Equal(t, StateOpen, e.state)

	// Another failure keeps the circuit open.
	e.recordFailure()
	assert.Equal(t, StateOpen, e.state)

	// Only a successful probe closes it, directly back to healthy.
	e.recordSuccess(10*time.Millisecond, time.Now())
	assert.Equal(t, StateHealthy, e.state)
	assert.Equal(t, 0, e.consecutiveFailures)
}

func TestSelectProbesWhenStale(t *testing.T) {
	ts := okServer(t, 0)
	m := newTestMonitor(t, Config{Endpoints: []string{ts.URL}})

	url, err := m.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ts.URL, url)

	status := m.MirrorStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "Working", status[0].Status)
}

func TestValidityMarkerRejected(t *testing.T) {
	// A captive portal: answers 200 but without the source's markers.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>please log in to the hotel wifi</html>")
	}))
	t.Cleanup(ts.Close)

	m := newTestMonitor(t, Config{Endpoints: []string{ts.URL}})

	_, err := m.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)

	status := m.MirrorStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "Failed", status[0].Status)
}

func TestCircuitOpensAfterReportedFailures(t *testing.T) {
	a := okServer(t, 0)
	b := okServer(t, 0)
	m := newTestMonitor(t, Config{Endpoints: []string{a.URL, b.URL}})

	// Initial probe round marks both healthy.
	first, err := m.Select(context.Background())
	require.NoError(t, err)

	var other string
	if first == a.URL {
		other = b.URL
	} else {
		other = a.URL
	}

	// Three live failures open the first endpoint's circuit.
	for i := 0; i < failureThreshold; i++ {
		m.ReportFailure(first)
	}

	for i := 0; i < 5; i++ {
		url, err := m.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, other, url, "open circuit must not be selected while a healthy endpoint exists")
	}
}

func TestReportedFailureKeepsFreshlyProbedMirror(t *testing.T) {
	a := okServer(t, 0)
	b := okServer(t, 0)
	m := newTestMonitor(t, Config{Endpoints: []string{a.URL, b.URL}})

	first, err := m.Select(context.Background())
	require.NoError(t, err)

	var other string
	if first == a.URL {
		other = b.URL
	} else {
		other = a.URL
	}

	// Below the threshold a mirror whose last probe succeeded stays in
	// rotation, even though its state is degraded.
	for i := 0; i < failureThreshold-1; i++ {
		m.ReportFailure(first)
		url, err := m.Select(context.Background(), other)
		require.NoError(t, err)
		assert.Equal(t, first, url,
			"%d reported failure(s) must not de-select a freshly-probed mirror", i+1)
	}

	// The threshold failure opens the circuit and removes it.
	m.ReportFailure(first)
	_, err = m.Select(context.Background(), other)
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)

	url, err := m.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, other, url)
}

func TestCircuitRecoveryViaForcedProbe(t *testing.T) {
	var healthy atomic.Bool
	ts := flagServer(t, &healthy)

	m := newTestMonitor(t, Config{Endpoints: []string{ts.URL}})

	// Two Select calls accumulate enough probe failures to open the circuit.
	_, err := m.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
	_, err = m.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)

	m.mu.Lock()
	state := m.endpoints[0].state
	m.mu.Unlock()
	assert.Equal(t, StateOpen, state)

	// The mirror comes back. With no healthy endpoint left, Select forces
	// a re-probe and the endpoint becomes selectable again.
	healthy.Store(true)
	url, err := m.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ts.URL, url)

	m.mu.Lock()
	state = m.endpoints[0].state
	m.mu.Unlock()
	assert.Equal(t, StateHealthy, state)
}

func TestProbeRanking(t *testing.T) {
	// 8 working mirrors with staggered latency and 3 that time out.
	var urls []string
	for i := 0; i < 8; i++ {
		urls = append(urls, okServer(t, time.Duration(i)*30*time.Millisecond).URL)
	}
	for i := 0; i < 3; i++ {
		urls = append(urls, okServer(t, time.Second).URL) // past ProbeTimeout
	}

	m := newTestMonitor(t, Config{Endpoints: urls, ProbeTimeout: 300 * time.Millisecond})
	m.ForceHealthCheck(context.Background())

	status := m.MirrorStatus()
	require.Len(t, status, 11)

	working := 0
	for _, s := range status {
		if s.Status == "Working" {
			working++
		}
	}
	assert.Equal(t, 8, working)

	// Healthy mirrors come first, fastest first.
	minMs := int64(-1)
	for i, s := range status {
		if i < 8 {
			require.Equal(t, "Working", s.Status, "working mirrors must be ranked before failed ones")
			if minMs < 0 {
				minMs = s.ResponseTimeMs
			}
			assert.LessOrEqual(t, minMs, s.ResponseTimeMs, "first working mirror must have the lowest latency")
		} else {
			assert.Equal(t, "Failed", s.Status)
		}
	}
}

func TestSelectExcludesTriedEndpoints(t *testing.T) {
	a := okServer(t, 0)
	b := okServer(t, 10*time.Millisecond)
	m := newTestMonitor(t, Config{Endpoints: []string{a.URL, b.URL}})

	first, err := m.Select(context.Background())
	require.NoError(t, err)

	second, err := m.Select(context.Background(), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = m.Select(context.Background(), first, second)
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
}

func TestMetricsTrackProbesAndCircuit(t *testing.T) {
	var healthyA, healthyB atomic.Bool
	a := flagServer(t, &healthyA)
	b := flagServer(t, &healthyB)

	// Gathered samples come back sorted by label values, so pin which
	// mirror is healthy by URL order.
	good, bad := a.URL, b.URL
	goodFlag := &healthyA
	if good > bad {
		good, bad = bad, good
		goodFlag = &healthyB
	}
	goodFlag.Store(true)

	promReg := prometheus.NewRegistry()
	m := newTestMonitor(t, Config{
		Endpoints: []string{good, bad},
		Metrics:   telemetry.NewMetrics(promReg),
	})
	m.ForceHealthCheck(context.Background())

	// Two more live failures against the bad mirror open its circuit.
	m.ReportFailure(bad)
	m.ReportFailure(bad)

	expected := fmt.Sprintf(`
		# HELP scholar_gateway_circuit_open 1 when the endpoint's circuit is open, 0 otherwise
		# TYPE scholar_gateway_circuit_open gauge
		scholar_gateway_circuit_open{endpoint=%q,source="test"} 0
		scholar_gateway_circuit_open{endpoint=%q,source="test"} 1
		# HELP scholar_gateway_probe_results_total Endpoint probe outcomes
		# TYPE scholar_gateway_probe_results_total counter
		scholar_gateway_probe_results_total{endpoint=%q,result="ok",source="test"} 1
		scholar_gateway_probe_results_total{endpoint=%q,result="failed",source="test"} 1
	`, good, bad, good, bad)
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"scholar_gateway_probe_results_total",
		"scholar_gateway_circuit_open"))
}

func TestIndexOfMissingURL(t *testing.T) {
	urls := []string{"http://a", "http://b"}
	assert.Equal(t, 1, indexOf(urls, "http://b"))
	assert.Equal(t, -1, indexOf(urls, "http://c"),
		"an unmatched URL must not map onto another endpoint's outcome")
}

func TestCloseStopsMonitor(t *testing.T) {
	ts := okServer(t, 0)
	m := newTestMonitor(t, Config{Endpoints: []string{ts.URL}})

	m.Close()
	m.Close() // idempotent

	_, err := m.Select(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
