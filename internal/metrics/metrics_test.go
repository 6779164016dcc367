package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounterVec_SharedAcrossRegistrations(t *testing.T) {
	reg := prometheus.NewRegistry()

	a := CounterVec(reg, "test", "events_total", "events", "outcome")
	b := CounterVec(reg, "test", "events_total", "events", "outcome")

	a.WithLabelValues("ok").Inc()
	b.WithLabelValues("ok").Inc()

	if got := testutil.ToFloat64(a.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected both handles to share a series, got %v", got)
	}
}

func TestCounterVec_NilRegisterer(t *testing.T) {
	c := CounterVec(nil, "test", "events_total", "events", "outcome")
	c.WithLabelValues("x").Inc()
	if got := testutil.ToFloat64(c.WithLabelValues("x")); got != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestHistogramVec_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := HistogramVec(reg, "test", "latency_seconds", "latency", "outcome")
	h.WithLabelValues("ok").Observe(0.1)

	if n := testutil.CollectAndCount(h); n != 1 {
		t.Fatalf("expected 1 series, got %d", n)
	}
}
