package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/umbra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot umbra.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() umbra.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := umbra.MetricsSnapshot{
		Counters:   make(map[umbra.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[umbra.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterCollectsSnapshotValues(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: umbra.MetricsSnapshot{
			Counters: map[umbra.MetricID]uint64{umbra.MetricPoWSolved: 3},
			Histograms: map[umbra.MetricID][]uint64{
				umbra.MetricStepLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("umbra-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, ok := findInt64(rm, "umbra_pow_solved_total"); !ok || v != 3 {
		t.Fatalf("expected pow solved 3, got %d (found %v)", v, ok)
	}
	if v, ok := findInt64(rm, "umbra_handshake_step_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("expected histogram count 8, got %d (found %v)", v, ok)
	}
	if v, ok := findInt64(rm, "umbra_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("expected audit dropped 1, got %d (found %v)", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporter(provider.Meter("umbra-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{snapshot: umbra.MetricsSnapshot{
		Counters:   map[umbra.MetricID]uint64{umbra.MetricJobDispatched: 1},
		Histograms: map[umbra.MetricID][]uint64{},
	}}

	exp, err := NewExporter(provider.Meter("umbra-test"), src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[umbra.MetricJobDispatched] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
