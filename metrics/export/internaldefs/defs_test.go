package internaldefs

import (
	"strings"
	"testing"

	goRotate "github.com/MrEthical07/goRotate"
)

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	seenID := map[goRotate.MetricID]bool{}
	seenName := map[string]bool{}
	for _, def := range CounterDefs {
		if seenID[def.ID] || seenName[def.Name] {
			t.Fatalf("duplicate counter def %+v", def)
		}
		seenID[def.ID], seenName[def.Name] = true, true
		if !strings.HasPrefix(def.Name, "gorotate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %q", def.Name)
		}
	}
	for _, def := range HistogramDefs {
		if seenID[def.ID] {
			t.Fatalf("histogram %q reuses a counter id", def.Name)
		}
	}
	if got := len(CounterDefs) + len(HistogramDefs); got != int(goRotate.MetricRefreshLatency)+1 {
		t.Fatalf("expected every metric id exported, got %d defs", got)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatalf("bounds and suffixes disagree")
	}
}
