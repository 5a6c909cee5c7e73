package metrics_test

import (
	"testing"

	"github.com/USA-RedDragon/rtz-link/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegister(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	m.IncrementRequests("query")
	m.IncrementRequestsInFlight()
	m.IncrementFramesDropped("unmatched")
	m.SetConnectionOpen(true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}

	count, err := testutil.GatherAndCount(reg, "link_requests_total", "link_connections_total")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("unexpected series count: %d", count)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *metrics.Metrics
	m.IncrementRequests("query")
	m.IncrementRequestsInFlight()
	m.DecrementRequestsInFlight()
	m.IncrementRequestErrors("remote")
	m.IncrementFramesSent()
	m.IncrementFramesReceived()
	m.IncrementFramesDropped("malformed")
	m.SetConnectionOpen(false)
	m.IncrementBridgeRequests()
	m.IncrementBridgeErrors("timeout")
}
