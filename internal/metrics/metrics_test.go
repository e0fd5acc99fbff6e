package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestCountersAccumulate(t *testing.T) {
	before := counterValue(t, FlaggedPoolExclusions)
	FlaggedPoolExclusions.Inc()
	FlaggedPoolExclusions.Inc()
	if got := counterValue(t, FlaggedPoolExclusions); got != before+2 {
		t.Errorf("flagged pool exclusions = %f, want %f", got, before+2)
	}

	enq, err := ActionsEnqueued.GetMetricWithLabelValues("drain_node")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	before = counterValue(t, enq)
	enq.Inc()
	if got := counterValue(t, enq); got != before+1 {
		t.Errorf("actions enqueued = %f, want %f", got, before+1)
	}
}

func TestPlanGaugesTrackLastValue(t *testing.T) {
	g, err := PlanActions.GetMetricWithLabelValues("acme")
	if err != nil {
		t.Fatalf("get gauge: %v", err)
	}
	g.Set(4)
	g.Set(2)
	if got := counterValue(t, g); got != 2 {
		t.Errorf("plan actions gauge = %f, want last set value 2", got)
	}
}
