package engine

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/types"
)

func newTestProfiler(rate float64, seconds float64) *Profiler {
	return NewProfiler(StaticDisplay{Rate: rate}, ProfilerOptions{BufferSeconds: seconds}, zerolog.Nop(), nil)
}

func TestProfilerRecordsAndFinishes(t *testing.T) {
	p := newTestProfiler(60, 1)
	p.SetScreen(types.Screen{Width: 800, Height: 600})

	p.RecordFlush(flushAt(0.1))
	if p.Samples() != 0 {
		t.Fatal("recorded while off")
	}

	if err := p.SetMode(types.ProfileDropped); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if p.times.Cap() != 60 {
		t.Fatalf("buffer slots = %d, want 60", p.times.Cap())
	}
	for i := 0; i < 150; i++ {
		p.RecordFlush(flushAt(float64(i) / 60))
	}
	if p.times.Cap() != 240 {
		t.Fatalf("buffer slots after growth = %d, want 240", p.times.Cap())
	}

	if err := p.SetMode(types.ProfileOff); err != nil {
		t.Fatalf("SetMode off: %v", err)
	}
	s, ok := p.Last()
	if !ok {
		t.Fatal("no session in history")
	}
	if len(s.FlushTimes) != 150 || cap(s.FlushTimes) != 150 {
		t.Fatalf("flush times len %d cap %d", len(s.FlushTimes), cap(s.FlushTimes))
	}
	if s.FlushTimes[149] != 149.0/60 {
		t.Fatalf("last flush = %v", s.FlushTimes[149])
	}
	if s.Results != nil {
		t.Fatal("dropped-frame mode kept full results")
	}
	if s.FrameRate != 60 || s.Screen.Width != 800 || s.ID == "" || s.End.Before(s.Start) {
		t.Fatalf("session metadata = %+v", s)
	}
	if p.Mode() != types.ProfileOff || p.Samples() != 0 {
		t.Fatal("profiler not reset")
	}
}

func TestProfilerDetailedKeepsResults(t *testing.T) {
	p := newTestProfiler(100, 60)
	if err := p.SetMode(types.ProfileDetailed); err != nil {
		t.Fatal(err)
	}
	p.RecordFlush(flushAt(1))
	p.RecordFlush(flushAt(1.01))
	p.SetMode(types.ProfileOff)

	s, _ := p.Last()
	if s.Results.Len() != 2 || s.Results.DrawablePresented[1] != 1.01 {
		t.Fatalf("results = %+v", s.Results)
	}
	if s.Results.ProcessedTime[0] != flushAt(1).ProcessedTime {
		t.Fatalf("processed time = %v", s.Results.ProcessedTime[0])
	}
}

func TestProfilerEmptySessionNotKept(t *testing.T) {
	p := newTestProfiler(60, 60)
	p.SetMode(types.ProfileDropped)
	p.SetMode(types.ProfileOff)
	if len(p.History()) != 0 {
		t.Fatalf("history = %d, want 0", len(p.History()))
	}
}

func TestProfilerModeChanges(t *testing.T) {
	p := newTestProfiler(60, 60)

	if err := p.SetMode(types.ProfileMode(7)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if err := p.SetMode(types.ProfileBatchOwned); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
	if err := p.SetMode(types.ProfileDropped); err != nil {
		t.Fatal(err)
	}
	if err := p.SetMode(types.ProfileDropped); err != nil {
		t.Fatalf("same mode: %v", err)
	}
	if err := p.SetMode(types.ProfileDetailed); !errors.Is(err, ErrProfileActive) {
		t.Fatalf("switch err = %v, want ErrProfileActive", err)
	}
	if p.Mode() != types.ProfileDropped {
		t.Fatalf("mode = %s after refused switch", p.Mode())
	}
	p.SetMode(types.ProfileOff)

	if err := p.beginBatch(); err != nil {
		t.Fatal(err)
	}
	if err := p.SetMode(types.ProfileDetailed); !errors.Is(err, ErrBatchOwned) {
		t.Fatalf("err = %v, want ErrBatchOwned", err)
	}
	if err := p.SetMode(types.ProfileOff); !errors.Is(err, ErrBatchOwned) {
		t.Fatalf("err = %v, want ErrBatchOwned", err)
	}
	p.RecordFlush(flushAt(1))
	if p.Samples() != 0 {
		t.Fatal("interactive flush recorded during batch")
	}
}

func TestProfilerNeedsFrameRate(t *testing.T) {
	p := newTestProfiler(0, 60)
	if err := p.SetMode(types.ProfileDropped); err == nil {
		t.Fatal("activated without a frame rate")
	}
	if p.Mode() != types.ProfileOff {
		t.Fatalf("mode = %s", p.Mode())
	}
}

func TestProfilerFieldSelection(t *testing.T) {
	p := NewProfiler(StaticDisplay{Rate: 60}, ProfilerOptions{Field: types.FieldProcessedTime}, zerolog.Nop(), nil)
	p.SetMode(types.ProfileDropped)
	p.RecordFlush(flushAt(2))
	p.SetMode(types.ProfileOff)

	s, _ := p.Last()
	if s.FlushTimes[0] != flushAt(2).ProcessedTime {
		t.Fatalf("flush time = %v, want processed time", s.FlushTimes[0])
	}
}

func TestProfilerFeedsMetrics(t *testing.T) {
	m := metrics.New()
	p := NewProfiler(StaticDisplay{Rate: 60}, ProfilerOptions{}, zerolog.Nop(), m)
	p.SetMode(types.ProfileDropped)
	for _, ts := range []float64{1, 1.016, 1.033} {
		p.RecordFlush(flushAt(ts))
	}
	p.SetMode(types.ProfileOff)

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "pglink_frame_interval_seconds" {
			if n := mf.GetMetric()[0].GetHistogram().GetSampleCount(); n != 2 {
				t.Fatalf("intervals observed = %d, want 2", n)
			}
			return
		}
	}
	t.Fatal("frame interval histogram not gathered")
}
