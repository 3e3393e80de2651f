package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/umbra"
)

func TestDefsCoverEveryMetricOnce(t *testing.T) {
	seen := map[umbra.MetricID]string{}
	names := map[string]bool{}
	for _, d := range CounterDefs {
		if prev, ok := seen[d.ID]; ok {
			t.Fatalf("metric %d defined twice (%s, %s)", d.ID, prev, d.Name)
		}
		if names[d.Name] {
			t.Fatalf("duplicate name %s", d.Name)
		}
		if !strings.HasPrefix(d.Name, "umbra_") || !strings.HasSuffix(d.Name, "_total") {
			t.Fatalf("counter name %s does not follow umbra_*_total", d.Name)
		}
		seen[d.ID], names[d.Name] = d.Name, true
	}
	for _, d := range HistogramDefs {
		seen[d.ID] = d.Name
	}
	for id := umbra.MetricJobSubmitted; id <= umbra.MetricStepLatency; id++ {
		if _, ok := seen[id]; !ok {
			t.Fatalf("metric %d has no definition", id)
		}
	}
	if len(HistogramBounds) != 8 || len(HistogramBoundSuffix) != 8 {
		t.Fatalf("expected 8 bucket bounds")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
