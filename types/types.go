package types

import (
	"encoding/hex"
	"fmt"
	"time"
)

// SentinelCode is the reserved UINT16_MAX command code.
const SentinelCode uint16 = 0xFFFF

// Command names issued by this package's own helpers.
const (
	CmdPing                    = "mglPing"
	CmdFlush                   = "mglFlush"
	CmdStartBatch              = "mglStartBatch"
	CmdProcessBatch            = "mglProcessBatch"
	CmdFinishBatch             = "mglFinishBatch"
	CmdSetRenderTarget         = "mglSetRenderTarget"
	CmdCreateTexture           = "mglCreateTexture"
	CmdFrameGrab               = "mglFrameGrab"
	CmdSampleTimestamps        = "mglSampleTimestamps"
	CmdGetWindowFrameInDisplay = "mglGetWindowFrameInDisplay"
)

type CommandCode struct {
	Name string
	Code uint16
}

// CommandResult is the per-command record the host returns after executing a command.
type CommandResult struct {
	Ack               float64
	CommandCode       uint16
	Success           uint32
	ProcessedTime     float64
	VertexStart       float64
	VertexEnd         float64
	FragmentStart     float64
	FragmentEnd       float64
	DrawableAcquired  float64
	DrawablePresented float64
}

// CommandResults holds the result records of a block of commands as
// index-aligned sequences, the layout the host sends them in.
type CommandResults struct {
	Ack               float64
	CommandCode       []uint16
	Success           []uint32
	ProcessedTime     []float64
	VertexStart       []float64
	VertexEnd         []float64
	FragmentStart     []float64
	FragmentEnd       []float64
	DrawableAcquired  []float64
	DrawablePresented []float64
}

func (r *CommandResults) Len() int {
	if r == nil {
		return 0
	}
	return len(r.CommandCode)
}

// At returns the i-th record. The block ack is copied into the record.
func (r *CommandResults) At(i int) CommandResult {
	return CommandResult{
		Ack:               r.Ack,
		CommandCode:       r.CommandCode[i],
		Success:           r.Success[i],
		ProcessedTime:     r.ProcessedTime[i],
		VertexStart:       r.VertexStart[i],
		VertexEnd:         r.VertexEnd[i],
		FragmentStart:     r.FragmentStart[i],
		FragmentEnd:       r.FragmentEnd[i],
		DrawableAcquired:  r.DrawableAcquired[i],
		DrawablePresented: r.DrawablePresented[i],
	}
}

// Append adds one record to every field sequence.
func (r *CommandResults) Append(c CommandResult) {
	r.CommandCode = append(r.CommandCode, c.CommandCode)
	r.Success = append(r.Success, c.Success)
	r.ProcessedTime = append(r.ProcessedTime, c.ProcessedTime)
	r.VertexStart = append(r.VertexStart, c.VertexStart)
	r.VertexEnd = append(r.VertexEnd, c.VertexEnd)
	r.FragmentStart = append(r.FragmentStart, c.FragmentStart)
	r.FragmentEnd = append(r.FragmentEnd, c.FragmentEnd)
	r.DrawableAcquired = append(r.DrawableAcquired, c.DrawableAcquired)
	r.DrawablePresented = append(r.DrawablePresented, c.DrawablePresented)
}

// Field returns the sequence backing a time-valued field.
func (r *CommandResults) Field(f ResultField) []float64 {
	if r == nil {
		return nil
	}
	switch f {
	case FieldProcessedTime:
		return r.ProcessedTime
	case FieldVertexStart:
		return r.VertexStart
	case FieldVertexEnd:
		return r.VertexEnd
	case FieldFragmentStart:
		return r.FragmentStart
	case FieldFragmentEnd:
		return r.FragmentEnd
	case FieldDrawableAcquired:
		return r.DrawableAcquired
	default:
		return r.DrawablePresented
	}
}

// ResultField names the time-valued fields of a CommandResult.
type ResultField int

const (
	FieldDrawablePresented ResultField = iota
	FieldDrawableAcquired
	FieldProcessedTime
	FieldVertexStart
	FieldVertexEnd
	FieldFragmentStart
	FieldFragmentEnd
)

var resultFieldNames = map[ResultField]string{
	FieldDrawablePresented: "drawablePresented",
	FieldDrawableAcquired:  "drawableAcquired",
	FieldProcessedTime:     "processedTime",
	FieldVertexStart:       "vertexStart",
	FieldVertexEnd:         "vertexEnd",
	FieldFragmentStart:     "fragmentStart",
	FieldFragmentEnd:       "fragmentEnd",
}

func (f ResultField) String() string {
	if s, ok := resultFieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("ResultField(%d)", int(f))
}

// Value picks the field out of a single record.
func (f ResultField) Value(c CommandResult) float64 {
	switch f {
	case FieldProcessedTime:
		return c.ProcessedTime
	case FieldVertexStart:
		return c.VertexStart
	case FieldVertexEnd:
		return c.VertexEnd
	case FieldFragmentStart:
		return c.FragmentStart
	case FieldFragmentEnd:
		return c.FragmentEnd
	case FieldDrawableAcquired:
		return c.DrawableAcquired
	default:
		return c.DrawablePresented
	}
}

// ParseResultField maps a wire field name back to a ResultField.
func ParseResultField(name string) (ResultField, error) {
	for f, s := range resultFieldNames {
		if s == name {
			return f, nil
		}
	}
	return FieldDrawablePresented, fmt.Errorf("unknown result field %q", name)
}

// LogEntry is one recorded command: the encoded code followed by every raw
// payload write issued before the next command.
type LogEntry struct {
	Code   uint16
	Chunks [][]byte
	At     time.Time
}

// Size is the number of bytes the entry puts on the wire.
func (e LogEntry) Size() int {
	n := 0
	for _, c := range e.Chunks {
		n += len(c)
	}
	return n
}

type BatchState int

const (
	BatchIdle BatchState = iota
	BatchStarted
	BatchRunning
	BatchEnded
)

func (s BatchState) String() string {
	switch s {
	case BatchIdle:
		return "idle"
	case BatchStarted:
		return "started"
	case BatchRunning:
		return "running"
	case BatchEnded:
		return "ended"
	}
	return fmt.Sprintf("BatchState(%d)", int(s))
}

type ProfileMode int

const (
	// ProfileBatchOwned marks the profiler as driven by a batch; interactive
	// activation is refused while it is set.
	ProfileBatchOwned ProfileMode = -1
	ProfileOff        ProfileMode = 0
	ProfileDropped    ProfileMode = 1
	ProfileDetailed   ProfileMode = 2
)

func (m ProfileMode) String() string {
	switch m {
	case ProfileBatchOwned:
		return "batch"
	case ProfileOff:
		return "off"
	case ProfileDropped:
		return "dropped-frames"
	case ProfileDetailed:
		return "detailed"
	}
	return fmt.Sprintf("ProfileMode(%d)", int(m))
}

// Active reports whether the mode records samples.
func (m ProfileMode) Active() bool {
	return m != ProfileOff
}

// Screen is the host window frame in display pixels.
type Screen struct {
	Which  int
	X      int
	Y      int
	Width  int
	Height int
}

type ProfileSession struct {
	ID        string
	Mode      ProfileMode
	Start     time.Time
	End       time.Time
	HostStart float64 // host ack time at start, 0 if unknown
	HostEnd   float64
	FrameRate float64
	Screen    Screen

	FlushTimes []float64
	Results    *CommandResults // nil unless Detailed or batch
}

// Frame is an RGBA float image grabbed from the host, row-major.
type Frame struct {
	Width  int
	Height int
	Pixels []float32
}

// Recording is a command log in its saved form. Chunks are hex encoded and
// TDelta is the time since the previous command in milliseconds.
type Recording struct {
	ID       string
	Socket   string
	Schema   string
	Created  string
	Commands []RecordedCommand
}

type RecordedCommand struct {
	Name   string
	Code   int
	TDelta int
	Chunks []string
}

// NewRecording converts a log into its saved form. names holds the command
// name of each entry.
func NewRecording(id string, entries []LogEntry, names []string) *Recording {
	rec := &Recording{ID: id, Commands: make([]RecordedCommand, len(entries))}
	if len(entries) > 0 && !entries[0].At.IsZero() {
		rec.Created = entries[0].At.Format(time.RFC3339Nano)
	}
	var prev time.Time
	for i, e := range entries {
		c := RecordedCommand{Code: int(e.Code), Chunks: make([]string, len(e.Chunks))}
		if i < len(names) {
			c.Name = names[i]
		}
		if i > 0 && !prev.IsZero() && !e.At.IsZero() {
			c.TDelta = int(e.At.Sub(prev).Milliseconds())
		}
		prev = e.At
		for j, chunk := range e.Chunks {
			c.Chunks[j] = hex.EncodeToString(chunk)
		}
		rec.Commands[i] = c
	}
	return rec
}

// Log converts the recording back into log entries and their names. names
// is nil unless every command is named.
func (r *Recording) Log() ([]LogEntry, []string, error) {
	base := time.Time{}
	if r.Created != "" {
		t, err := time.Parse(time.RFC3339Nano, r.Created)
		if err != nil {
			return nil, nil, fmt.Errorf("created: %w", err)
		}
		base = t
	}

	entries := make([]LogEntry, len(r.Commands))
	names := make([]string, len(r.Commands))
	named := true
	at := base
	for i, c := range r.Commands {
		if c.Code < 0 || c.Code > int(SentinelCode) {
			return nil, nil, fmt.Errorf("command %d: code %d out of range", i, c.Code)
		}
		if !at.IsZero() {
			at = at.Add(time.Duration(c.TDelta) * time.Millisecond)
		}
		e := LogEntry{Code: uint16(c.Code), At: at, Chunks: make([][]byte, len(c.Chunks))}
		for j, s := range c.Chunks {
			b, err := hex.DecodeString(s)
			if err != nil {
				return nil, nil, fmt.Errorf("command %d chunk %d: %w", i, j, err)
			}
			e.Chunks[j] = b
		}
		entries[i] = e
		names[i] = c.Name
		named = named && c.Name != ""
	}
	if !named {
		names = nil
	}
	return entries, names, nil
}
