package umbra

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricJobSubmitted)

	if got := m.Value(MetricJobSubmitted); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if s := m.Snapshot(); len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", s)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLogout)
	m.Observe(MetricStepLatency, time.Second)
	if m.Enabled() || m.Value(MetricLogout) != 0 {
		t.Fatalf("nil metrics must be inert")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricJobDispatched)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricJobDispatched); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	observations := []time.Duration{
		10 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		4 * time.Second,
		time.Minute,
	}
	for _, d := range observations {
		m.Observe(MetricStepLatency, d)
	}
	m.Observe(MetricLogout, time.Second)

	got := m.Snapshot().Histograms[MetricStepLatency]
	if len(got) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(got))
	}
	for i, v := range got {
		if v != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricStepLatency, time.Second)
	m.Inc(MetricBearerMinted)

	s := m.Snapshot()
	if _, ok := s.Histograms[MetricStepLatency]; ok {
		t.Fatalf("histogram present with latency disabled")
	}
	if s.Counters[MetricBearerMinted] != 1 {
		t.Fatalf("expected bearer counter 1, got %d", s.Counters[MetricBearerMinted])
	}
	if _, ok := s.Counters[MetricStepLatency]; ok {
		t.Fatalf("histogram id reported as a counter")
	}
}
