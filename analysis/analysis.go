// Package analysis computes frame timing statistics for finished profile
// sessions and renders them for the terminal.
package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/samaelod/pglink/types"
)

// dropFactor scales the mean frame interval into the dropped-frame threshold.
const dropFactor = 1.5

// DroppedFrame is one interval that exceeded the threshold. Index is the
// position of the interval: the gap between flush Index and Index+1.
type DroppedFrame struct {
	Index int
	Delta float64
}

type Report struct {
	SessionID string
	Mode      types.ProfileMode
	Frames    int
	Elapsed   float64
	Wall      time.Duration
	FrameRate float64
	Expected  float64 // 1/FrameRate, 0 when the rate is unknown

	Deltas    []float64
	Mean      float64
	Median    float64
	StdDev    float64
	Min       float64
	Max       float64
	Threshold float64
	Dropped   []DroppedFrame
}

// DropRate is the fraction of intervals classified as dropped.
func (r Report) DropRate() float64 {
	if len(r.Deltas) == 0 {
		return 0
	}
	return float64(len(r.Dropped)) / float64(len(r.Deltas))
}

// Analyze computes interval statistics over the session's flush times.
// Sessions with fewer than two flushes produce a report with no intervals.
func Analyze(s types.ProfileSession) Report {
	r := Report{
		SessionID: s.ID,
		Mode:      s.Mode,
		Frames:    len(s.FlushTimes),
		FrameRate: s.FrameRate,
	}
	if !s.End.IsZero() {
		r.Wall = s.End.Sub(s.Start)
	}
	if s.FrameRate > 0 {
		r.Expected = 1 / s.FrameRate
	}
	if r.Frames < 2 {
		return r
	}

	times := s.FlushTimes
	r.Elapsed = times[len(times)-1] - times[0]
	r.Deltas = Deltas(times)
	r.Mean, r.StdDev = meanStdDev(r.Deltas)
	r.Median = median(r.Deltas)
	r.Min, r.Max = r.Deltas[0], r.Deltas[0]
	for _, d := range r.Deltas {
		r.Min = math.Min(r.Min, d)
		r.Max = math.Max(r.Max, d)
	}

	r.Threshold = r.Mean * dropFactor
	for i, d := range r.Deltas {
		if d > r.Threshold {
			r.Dropped = append(r.Dropped, DroppedFrame{Index: i, Delta: d})
		}
	}
	return r
}

// Deltas returns the differences between consecutive values.
func Deltas(times []float64) []float64 {
	if len(times) < 2 {
		return nil
	}
	out := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		out[i-1] = times[i] - times[i-1]
	}
	return out
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(v []float64) (float64, float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))

	var sumSquares float64
	for _, x := range v {
		diff := x - mean
		sumSquares += diff * diff
	}
	return mean, math.Sqrt(sumSquares / float64(len(v)))
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
