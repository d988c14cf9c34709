package analysis

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorSubtext = lipgloss.Color("#777777")
	colorSuccess = lipgloss.Color("#43BF6D")
	colorError   = lipgloss.Color("#FF5F5F")

	styleHeading = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	styleLabel   = lipgloss.NewStyle().Foreground(colorSubtext).Width(12)
	styleBar     = lipgloss.NewStyle().Foreground(colorSuccess)
	styleDropBar = lipgloss.NewStyle().Foreground(colorError)
	styleMarker  = lipgloss.NewStyle().Foreground(colorPrimary)
)

// Bin is one histogram bucket over [Lo, Hi).
type Bin struct {
	Lo    float64
	Hi    float64
	Count int
}

// Histogram buckets the report's intervals into bins of equal width between
// the shortest and longest interval. The last bin is closed.
func Histogram(r Report, bins int) []Bin {
	if len(r.Deltas) == 0 || bins <= 0 {
		return nil
	}
	if r.Max == r.Min {
		return []Bin{{Lo: r.Min, Hi: r.Max, Count: len(r.Deltas)}}
	}

	width := (r.Max - r.Min) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lo = r.Min + float64(i)*width
		out[i].Hi = out[i].Lo + width
	}
	out[bins-1].Hi = r.Max

	for _, d := range r.Deltas {
		i := int((d - r.Min) / width)
		if i >= bins {
			i = bins - 1
		}
		out[i].Count++
	}
	return out
}

func ms(v float64) string {
	return fmt.Sprintf("%.2f ms", v*1000)
}

// Render formats the report and a histogram of its intervals in width
// columns. Bins above the drop threshold are drawn in the error color and the
// bin holding the expected interval is marked.
func Render(r Report, width int) string {
	var b strings.Builder

	title := "Profile"
	if r.SessionID != "" {
		title += " " + r.SessionID
	}
	b.WriteString(styleHeading.Render(title) + "\n\n")

	row := func(label, value string) {
		b.WriteString(styleLabel.Render(label) + value + "\n")
	}
	row("Mode", r.Mode.String())
	row("Frames", fmt.Sprintf("%d", r.Frames))
	row("Elapsed", fmt.Sprintf("%.3f s", r.Elapsed))
	if r.Expected > 0 {
		row("Expected", fmt.Sprintf("%s (%.1f Hz)", ms(r.Expected), r.FrameRate))
	}
	if len(r.Deltas) == 0 {
		b.WriteString("\nNot enough flushes to measure intervals.\n")
		return b.String()
	}
	row("Mean", ms(r.Mean))
	row("Median", ms(r.Median))
	row("Std dev", ms(r.StdDev))
	row("Range", ms(r.Min)+" - "+ms(r.Max))
	row("Threshold", ms(r.Threshold))
	row("Dropped", fmt.Sprintf("%d (%.1f%%)", len(r.Dropped), r.DropRate()*100))

	hist := Histogram(r, 10)
	peak := 0
	for _, bin := range hist {
		peak = max(peak, bin.Count)
	}

	const labelWidth = 22
	barWidth := max(width-labelWidth-16, 10)

	b.WriteString("\n")
	for i, bin := range hist {
		n := 0
		if peak > 0 {
			n = bin.Count * barWidth / peak
		}
		if bin.Count > 0 && n == 0 {
			n = 1
		}

		bar := styleBar
		if bin.Lo > r.Threshold {
			bar = styleDropBar
		}
		line := fmt.Sprintf("%7.2f-%-7.2f ms %5d ", bin.Lo*1000, bin.Hi*1000, bin.Count) + bar.Render(strings.Repeat("█", n))

		last := i == len(hist)-1
		if r.Expected >= bin.Lo && (r.Expected < bin.Hi || (last && r.Expected <= bin.Hi)) {
			line += styleMarker.Render(" ◀ expected")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
