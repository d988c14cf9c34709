package analysis

import (
	"math"
	"strings"
	"testing"
	"testing/quick"
	"time"

	"github.com/samaelod/pglink/types"
)

func series(start float64, deltas ...float64) []float64 {
	out := []float64{start}
	for _, d := range deltas {
		out = append(out, out[len(out)-1]+d)
	}
	return out
}

func TestAnalyzeSingleDrop(t *testing.T) {
	const d = 1.0 / 60
	deltas := make([]float64, 20)
	for i := range deltas {
		deltas[i] = d
	}
	deltas[13] = 1.6 * d

	s := types.ProfileSession{
		ID:         "s1",
		Mode:       types.ProfileDropped,
		FrameRate:  60,
		FlushTimes: series(100, deltas...),
	}
	r := Analyze(s)

	if r.Frames != 21 || len(r.Deltas) != 20 {
		t.Fatalf("frames %d deltas %d", r.Frames, len(r.Deltas))
	}
	if len(r.Dropped) != 1 {
		t.Fatalf("dropped = %+v, want one", r.Dropped)
	}
	if r.Dropped[0].Index != 13 || math.Abs(r.Dropped[0].Delta-1.6*d) > 1e-9 {
		t.Fatalf("dropped = %+v", r.Dropped[0])
	}
	if math.Abs(r.Expected-d) > 1e-12 {
		t.Fatalf("expected = %v", r.Expected)
	}
	if math.Abs(r.Median-d) > 1e-9 {
		t.Fatalf("median = %v", r.Median)
	}
	if math.Abs(r.Threshold-r.Mean*1.5) > 1e-12 {
		t.Fatalf("threshold = %v, mean %v", r.Threshold, r.Mean)
	}
}

func TestAnalyzeShortSessions(t *testing.T) {
	tests := []struct {
		name  string
		times []float64
	}{
		{"empty", nil},
		{"one flush", []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Analyze(types.ProfileSession{FlushTimes: tt.times})
			if r.Frames != len(tt.times) || r.Deltas != nil || r.Dropped != nil || r.DropRate() != 0 {
				t.Fatalf("report = %+v", r)
			}
			if out := Render(r, 80); !strings.Contains(out, "Not enough flushes") {
				t.Fatalf("render = %q", out)
			}
		})
	}
}

func TestAnalyzeWallTime(t *testing.T) {
	start := time.Now()
	r := Analyze(types.ProfileSession{Start: start, End: start.Add(2 * time.Second), FlushTimes: []float64{1, 2}})
	if r.Wall != 2*time.Second || r.Elapsed != 1 {
		t.Fatalf("wall %v elapsed %v", r.Wall, r.Elapsed)
	}
}

func TestHistogramCountsEveryDelta(t *testing.T) {
	f := func(raw []uint16, bins uint8) bool {
		if len(raw) < 2 || bins == 0 {
			return true
		}
		times := make([]float64, len(raw))
		acc := 0.0
		for i, v := range raw {
			acc += float64(v)/1000 + 0.001
			times[i] = acc
		}
		r := Analyze(types.ProfileSession{FlushTimes: times})
		total := 0
		for _, b := range Histogram(r, int(bins)) {
			total += b.Count
		}
		return total == len(r.Deltas)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestRenderMarksExpected(t *testing.T) {
	const d = 1.0 / 64
	s := types.ProfileSession{FrameRate: 64, FlushTimes: series(0, d, d, d, 2*d, d)}
	out := Render(Analyze(s), 80)
	for _, want := range []string{"Dropped", "1 (20.0%)", "expected"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}
