// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics
	m.RecordGrant("arxiv", "immediate")
	m.RecordWait("arxiv")
	m.RecordWaitTimeout("arxiv", "rejected")
	m.SetPending("arxiv", 3)
	m.RecordProbe("dblp", "https://dblp.org", "ok")
	m.SetCircuitOpen("dblp", "https://dblp.org", true)
	m.RecordFetchAttempt("arxiv", "ok")
}

func TestRecordedSamplesAreGatherable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGrant("arxiv", "immediate")
	m.RecordGrant("arxiv", "queued")
	m.RecordWait("arxiv")
	m.RecordWaitTimeout("arxiv", "rejected")
	m.SetPending("arxiv", 2)
	m.RecordProbe("dblp", "https://dblp.org", "ok")
	m.SetCircuitOpen("dblp", "https://dblp.org", true)
	m.RecordFetchAttempt("arxiv", "transient")

	expected := `
		# HELP scholar_gateway_admission_grants_total Tokens granted by the per-source rate limiter
		# TYPE scholar_gateway_admission_grants_total counter
		scholar_gateway_admission_grants_total{path="immediate",source="arxiv"} 1
		scholar_gateway_admission_grants_total{path="queued",source="arxiv"} 1
		# HELP scholar_gateway_admission_pending Callers currently queued for a token
		# TYPE scholar_gateway_admission_pending gauge
		scholar_gateway_admission_pending{source="arxiv"} 2
		# HELP scholar_gateway_admission_timeouts_total Queued callers expired by the stale-wait sweep
		# TYPE scholar_gateway_admission_timeouts_total counter
		scholar_gateway_admission_timeouts_total{outcome="rejected",source="arxiv"} 1
		# HELP scholar_gateway_admission_waits_total Callers that queued because the token bucket was empty
		# TYPE scholar_gateway_admission_waits_total counter
		scholar_gateway_admission_waits_total{source="arxiv"} 1
		# HELP scholar_gateway_circuit_open 1 when the endpoint's circuit is open, 0 otherwise
		# TYPE scholar_gateway_circuit_open gauge
		scholar_gateway_circuit_open{endpoint="https://dblp.org",source="dblp"} 1
		# HELP scholar_gateway_fetch_attempts_total Live fetch attempts by outcome
		# TYPE scholar_gateway_fetch_attempts_total counter
		scholar_gateway_fetch_attempts_total{outcome="transient",source="arxiv"} 1
		# HELP scholar_gateway_probe_results_total Endpoint probe outcomes
		# TYPE scholar_gateway_probe_results_total counter
		scholar_gateway_probe_results_total{endpoint="https://dblp.org",result="ok",source="dblp"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}
