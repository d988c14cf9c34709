package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/buffer"
	"github.com/samaelod/pglink/schema"
	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

var (
	ErrRecordingActive = errors.New("recording in progress")
	ErrSchemaDrift     = errors.New("recording does not match the host command schema")
)

// CommandLog is an ordered capture of commands. Codes and entries grow
// together and stay index-aligned.
type CommandLog struct {
	codes   *buffer.Growable[uint16]
	entries *buffer.Growable[types.LogEntry]
}

func NewCommandLog(capacity int) *CommandLog {
	return &CommandLog{
		codes:   buffer.New[uint16](capacity),
		entries: buffer.New[types.LogEntry](capacity),
	}
}

func (l *CommandLog) appendCommand(code uint16, at time.Time) {
	l.codes.Append(code)
	l.entries.Append(types.LogEntry{Code: code, At: at})
}

// appendPayload adds b to the newest entry. It reports false when there is
// no entry to extend.
func (l *CommandLog) appendPayload(b []byte) bool {
	e := l.entries.Last()
	if e == nil {
		return false
	}
	e.Chunks = append(e.Chunks, b)
	return true
}

func (l *CommandLog) Len() int {
	if l == nil {
		return 0
	}
	return l.entries.Len()
}

func (l *CommandLog) Cap() int {
	if l == nil {
		return 0
	}
	return l.entries.Cap()
}

func (l *CommandLog) Entries() []types.LogEntry {
	if l == nil {
		return nil
	}
	return l.entries.Items()
}

func (l *CommandLog) Codes() []uint16 {
	if l == nil {
		return nil
	}
	return l.codes.Items()
}

// Count returns how many entries carry code.
func (l *CommandLog) Count(code uint16) int {
	if l == nil {
		return 0
	}
	return l.codes.Count(func(c uint16) bool { return c == code })
}

// Describe lists the log one command per line.
func (l *CommandLog) Describe(dict *schema.Dictionary) []string {
	entries := l.Entries()
	out := make([]string, 0, len(entries))
	for i, e := range entries {
		out = append(out, fmt.Sprintf("Command %d: %s (%d, %d bytes)", i, dict.NameOr(e.Code), e.Code, e.Size()))
	}
	return out
}

// ReplayOptions controls Recorder.Replay.
type ReplayOptions struct {
	// FrameGrab renders into an off-screen surface and reads back a frame
	// after every flush.
	FrameGrab bool
	// OnResult, when set, is called with each replayed entry and its result.
	OnResult func(entry types.LogEntry, res types.CommandResult)
}

// Recorder captures commands written through a Channel and replays them.
type Recorder struct {
	ch       *Channel
	log      *CommandLog
	active   bool
	external bool
	names    []string
	id       string
	started  time.Time
	capacity int
	logger   zerolog.Logger
}

// NewRecorder attaches a recorder to ch. capacity is the initial log size.
func NewRecorder(ch *Channel, capacity int, log zerolog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = buffer.DefaultCapacity
	}
	r := &Recorder{
		ch:       ch,
		capacity: capacity,
		logger:   log.With().Str("component", "recorder").Logger(),
	}
	if ch != nil {
		ch.sink = r
	}
	return r
}

func (r *Recorder) recording() bool { return r.active }

// logCommand opens a new entry. WriteCommand then writes the code itself
// through Write, which makes it the entry's first chunk.
func (r *Recorder) logCommand(code uint16) {
	r.log.appendCommand(code, time.Now())
}

func (r *Recorder) logPayload(b []byte) {
	if !r.log.appendPayload(b) {
		r.logger.Warn().Int("bytes", len(b)).Msg("payload written before any command; not recorded")
	}
}

// Start discards the current log and begins recording.
func (r *Recorder) Start() {
	r.log = NewCommandLog(r.capacity)
	r.active = true
	r.external = false
	r.names = nil
	r.id = uuid.NewString()
	r.started = time.Now()
	r.logger.Info().Str("recording", r.id).Msg("recording started")
}

// Stop ends recording and returns the number of captured commands.
func (r *Recorder) Stop() int {
	if !r.active {
		return r.log.Len()
	}
	r.active = false
	r.logger.Info().Str("recording", r.id).Int("commands", r.log.Len()).
		Dur("elapsed", time.Since(r.started)).Msg("recording stopped")
	return r.log.Len()
}

func (r *Recorder) Recording() bool { return r != nil && r.active }

// ID identifies the current log.
func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Log() *CommandLog { return r.log }

func (r *Recorder) Len() int { return r.log.Len() }

// Describe lists the current log using the channel's schema.
func (r *Recorder) Describe() []string {
	return r.log.Describe(r.ch.Dictionary())
}

// Load installs a log read from a file. names, when given, holds the command
// name recorded for each entry and is checked against the host schema before
// replay.
func (r *Recorder) Load(entries []types.LogEntry, names []string) error {
	if r.active {
		return ErrRecordingActive
	}
	if names != nil && len(names) != len(entries) {
		return fmt.Errorf("load recording: %d names for %d entries", len(names), len(entries))
	}
	capacity := r.capacity
	if len(entries) > capacity {
		capacity = len(entries)
	}
	l := NewCommandLog(capacity)
	for _, e := range entries {
		if len(e.Chunks) == 0 {
			b, err := transport.Encode(transport.Uint16(e.Code))
			if err != nil {
				return err
			}
			e.Chunks = [][]byte{b}
		}
		l.codes.Append(e.Code)
		l.entries.Append(e)
	}
	r.log = l
	r.external = true
	r.names = names
	r.id = uuid.NewString()
	r.logger.Info().Str("recording", r.id).Int("commands", l.Len()).Msg("recording loaded")
	return nil
}

// Names returns the recorded command names, resolving codes through the
// channel's schema when the log came from this session.
func (r *Recorder) Names() []string {
	if r.names != nil {
		return append([]string(nil), r.names...)
	}
	dict := r.ch.Dictionary()
	codes := r.log.Codes()
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = dict.NameOr(c)
	}
	return out
}

// VerifyAgainst checks that every recorded name still maps to its recorded
// code in dict.
func VerifyAgainst(dict *schema.Dictionary, entries []types.LogEntry, names []string) error {
	if len(names) != len(entries) {
		return fmt.Errorf("%w: %d names for %d entries", ErrSchemaDrift, len(names), len(entries))
	}
	var errs []error
	for i, e := range entries {
		code, ok := dict.Code(names[i])
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("entry %d: %s is not in the schema", i, names[i]))
		case code != e.Code:
			errs = append(errs, fmt.Errorf("entry %d: %s is code %d, recorded as %d", i, names[i], code, e.Code))
		}
		if len(errs) == 5 {
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrSchemaDrift, errors.Join(errs...))
	}
	return nil
}

// Replay sends the log to the host in order. An empty log is a no-op. With
// FrameGrab set, drawing goes to an off-screen surface and a frame is read
// back after every flush; the screen is restored as render target before
// returning.
func (r *Recorder) Replay(ctx context.Context, opts ReplayOptions) ([]types.Frame, error) {
	if r.active {
		return nil, ErrRecordingActive
	}
	if r.log.Len() == 0 {
		r.logger.Info().Msg("nothing to replay")
		return nil, nil
	}
	if !r.ch.IsOpen() {
		return nil, ErrNotConnected
	}
	dict := r.ch.Dictionary()
	if r.external && r.names != nil {
		if err := VerifyAgainst(dict, r.log.Entries(), r.names); err != nil {
			return nil, err
		}
	}

	entries := r.log.Entries()
	flushCode, hasFlush := dict.Code(types.CmdFlush)

	var frames []types.Frame
	if opts.FrameGrab {
		if !hasFlush {
			return nil, fmt.Errorf("frame grab: %w: %s", ErrUnknownCommand, types.CmdFlush)
		}
		restore, err := r.redirect()
		if err != nil {
			return nil, err
		}
		defer restore()
		frames = make([]types.Frame, 0, r.log.Count(flushCode))
	}

	start := time.Now()
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		res, err := r.ch.ReplayCommand(e)
		if err != nil {
			return frames, fmt.Errorf("replay command %d (%s): %w", i, dict.NameOr(e.Code), err)
		}
		if opts.OnResult != nil {
			opts.OnResult(e, res)
		}
		if opts.FrameGrab && e.Code == flushCode {
			f, err := r.ch.FrameGrab()
			if err != nil {
				return frames, fmt.Errorf("frame grab after command %d: %w", i, err)
			}
			frames = append(frames, f)
		}
	}

	r.logger.Info().Int("commands", len(entries)).Int("frames", len(frames)).
		Dur("elapsed", time.Since(start)).Msg("replay finished")
	return frames, nil
}

// redirect points rendering at a new off-screen surface the size of the host
// window and returns a func that points it back at the screen.
func (r *Recorder) redirect() (func(), error) {
	screen, err := r.ch.WindowFrame()
	if err != nil {
		return nil, fmt.Errorf("frame grab: %w", err)
	}
	surface, err := r.ch.CreateSurface(screen.Width, screen.Height)
	if err != nil {
		return nil, fmt.Errorf("frame grab: %w", err)
	}
	if err := r.ch.SetRenderTarget(surface); err != nil {
		return nil, fmt.Errorf("frame grab: %w", err)
	}
	r.logger.Debug().Uint32("surface", surface).Int("width", screen.Width).Int("height", screen.Height).
		Msg("rendering off-screen")

	return func() {
		if !r.ch.IsOpen() {
			return
		}
		if err := r.ch.SetRenderTarget(0); err != nil {
			r.logger.Error().Err(err).Msg("could not restore screen render target")
		}
	}, nil
}
