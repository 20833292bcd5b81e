package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PacketsReceived.Inc()
	m.Dropped(ReasonMuted)
	m.Dropped(ReasonMuted)
	m.Dropped(ReasonInactive)

	if got := testutil.ToFloat64(m.PacketsReceived); got != 1 {
		t.Errorf("PacketsReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues(ReasonMuted)); got != 2 {
		t.Errorf("PacketsDropped{muted} = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no metric families registered")
	}
}

func TestNewMetricsTwiceOnSeparateRegistries(t *testing.T) {
	// Each controller gets its own registry in tests; this must not panic.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestDroppedNilSafe(t *testing.T) {
	var m *Metrics
	m.Dropped(ReasonBuffer)
}
