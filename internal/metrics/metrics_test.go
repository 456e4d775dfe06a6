package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFindingsTotalIncrements(t *testing.T) {
	FindingsTotal.Reset()
	FindingsTotal.WithLabelValues("high", "ethereum").Inc()
	FindingsTotal.WithLabelValues("high", "ethereum").Inc()

	got := testutil.ToFloat64(FindingsTotal.WithLabelValues("high", "ethereum"))
	if got != 2 {
		t.Fatalf("FindingsTotal = %v, want 2", got)
	}
}

func TestServiceHealthGauge(t *testing.T) {
	ServiceHealth.Reset()
	ServiceHealth.WithLabelValues("rpc_pool", "ethereum").Set(1)

	got := testutil.ToFloat64(ServiceHealth.WithLabelValues("rpc_pool", "ethereum"))
	if got != 1 {
		t.Fatalf("ServiceHealth = %v, want 1", got)
	}
}

func TestActiveScansGauge(t *testing.T) {
	ActiveScans.Set(0)
	ActiveScans.Inc()
	ActiveScans.Inc()
	ActiveScans.Dec()

	if got := testutil.ToFloat64(ActiveScans); got != 1 {
		t.Fatalf("ActiveScans = %v, want 1", got)
	}
}
