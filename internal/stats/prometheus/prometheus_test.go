package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomtoy/chess-arena/internal/stats"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not registered", name)
	return nil
}

func TestCollector_Counter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncCounter(stats.MetricMoves, 2)
	c.IncCounter(stats.MetricMoves, 3)
	c.IncCounter(stats.MetricMoves, -1) // ignored

	f := gather(t, reg, stats.MetricMoves)
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 5 {
		t.Errorf("counter = %v, want 5", got)
	}
	if f.GetHelp() != "Plies persisted." {
		t.Errorf("help = %q", f.GetHelp())
	}
}

func TestCollector_GaugeGoesUpAndDown(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.AddGauge(stats.MetricMatchesRunning, 1)
	c.AddGauge(stats.MetricMatchesRunning, 1)
	c.AddGauge(stats.MetricMatchesRunning, -1)

	f := gather(t, reg, stats.MetricMatchesRunning)
	if got := f.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}
}

func TestCollector_Histogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveHistogram(stats.MetricEngineMoveSeconds, 0.2)
	c.ObserveHistogram(stats.MetricEngineMoveSeconds, 1.5)

	h := gather(t, reg, stats.MetricEngineMoveSeconds).GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 1.7 {
		t.Errorf("sample sum = %v, want 1.7", h.GetSampleSum())
	}
}

func TestCollector_AdoptsAlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)

	first.IncCounter(stats.MetricTokens, 10)
	second.IncCounter(stats.MetricTokens, 5)

	f := gather(t, reg, stats.MetricTokens)
	if got := f.GetMetric()[0].GetCounter().GetValue(); got != 15 {
		t.Errorf("shared counter = %v, want 15", got)
	}
}
