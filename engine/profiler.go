package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/buffer"
	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/types"
)

// DefaultProfileSeconds sizes the profile buffers when no duration is set.
const DefaultProfileSeconds = 60

var (
	ErrProfileActive = errors.New("profiling already active")
	ErrBatchOwned    = errors.New("profiler is owned by a running batch")
	ErrInvalidMode   = errors.New("invalid profile mode")
)

// DisplayInfo reports properties of the display the host draws to.
type DisplayInfo interface {
	FrameRate() (float64, error)
}

// StaticDisplay is a DisplayInfo with a configured refresh rate.
type StaticDisplay struct {
	Rate float64
}

func (d StaticDisplay) FrameRate() (float64, error) {
	if d.Rate <= 0 {
		return 0, fmt.Errorf("display frame rate not configured")
	}
	return d.Rate, nil
}

type ProfilerOptions struct {
	Field         types.ResultField
	BufferSeconds float64
}

// Profiler records flush timestamps, and in detailed mode whole result
// records, while a session is open. Finished sessions are kept in history.
type Profiler struct {
	display DisplayInfo
	field   types.ResultField
	seconds float64
	screen  types.Screen
	log     zerolog.Logger
	metrics *metrics.Metrics

	mode    types.ProfileMode
	session *types.ProfileSession
	times   *buffer.Growable[float64]
	results *buffer.Growable[types.CommandResult]
	history []types.ProfileSession
}

func NewProfiler(display DisplayInfo, opts ProfilerOptions, log zerolog.Logger, m *metrics.Metrics) *Profiler {
	if opts.BufferSeconds <= 0 {
		opts.BufferSeconds = DefaultProfileSeconds
	}
	return &Profiler{
		display: display,
		field:   opts.Field,
		seconds: opts.BufferSeconds,
		log:     log.With().Str("component", "profiler").Logger(),
		metrics: m,
	}
}

func (p *Profiler) Mode() types.ProfileMode { return p.mode }

// Field is the result field flush timestamps are taken from.
func (p *Profiler) Field() types.ResultField { return p.field }

// SetScreen sets the window geometry stored with new sessions.
func (p *Profiler) SetScreen(s types.Screen) { p.screen = s }

// SetMode switches profiling on or off. Turning it off saves the session to
// history. Switching directly between two active modes is refused, as is
// any change while a batch owns the profiler.
func (p *Profiler) SetMode(m types.ProfileMode) error {
	if m < types.ProfileOff || m > types.ProfileDetailed {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	if p.mode == types.ProfileBatchOwned {
		return ErrBatchOwned
	}
	if m == p.mode {
		return nil
	}
	if m == types.ProfileOff {
		p.finish()
		return nil
	}
	if p.mode.Active() {
		return fmt.Errorf("%w: %s, turn it off before switching to %s", ErrProfileActive, p.mode, m)
	}
	return p.activate(m)
}

func (p *Profiler) activate(m types.ProfileMode) error {
	rate, err := p.display.FrameRate()
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}
	size := int(p.seconds * rate)

	p.times = buffer.New[float64](size)
	p.results = nil
	if m == types.ProfileDetailed {
		p.results = buffer.New[types.CommandResult](size)
	}
	p.session = &types.ProfileSession{
		ID:        uuid.NewString(),
		Mode:      m,
		Start:     time.Now(),
		FrameRate: rate,
		Screen:    p.screen,
	}
	p.mode = m
	p.log.Info().Str("session", p.session.ID).Stringer("mode", m).Float64("frame_rate", rate).
		Int("slots", p.times.Cap()).Msg("profiling started")
	return nil
}

// RecordFlush stores the timestamp of a flush result. It does nothing unless
// interactive profiling is on.
func (p *Profiler) RecordFlush(res types.CommandResult) {
	if p.mode != types.ProfileDropped && p.mode != types.ProfileDetailed {
		return
	}
	var prev float64
	if last := p.times.Last(); last != nil {
		prev = *last
	}
	ts := p.field.Value(res)
	p.times.Append(ts)
	if p.results != nil {
		p.results.Append(res)
	}
	p.metrics.Flush(prev, ts)
}

// Samples is the number of flushes recorded in the open session.
func (p *Profiler) Samples() int {
	if p.times == nil {
		return 0
	}
	return p.times.Len()
}

// finish closes the open session. Sessions without samples are not kept.
func (p *Profiler) finish() {
	defer p.reset()
	if p.session == nil || p.times.Len() == 0 {
		p.log.Info().Msg("profiling stopped with no samples")
		return
	}

	p.times.Trim()
	p.session.FlushTimes = p.times.Items()
	if p.results != nil {
		p.results.Trim()
		merged := &types.CommandResults{}
		for _, r := range p.results.Items() {
			merged.Append(r)
		}
		p.session.Results = merged
	}
	p.session.End = time.Now()
	p.history = append(p.history, *p.session)
	p.log.Info().Str("session", p.session.ID).Int("flushes", len(p.session.FlushTimes)).
		Int("grows", p.times.Grows()).Msg("profiling stopped")
}

func (p *Profiler) reset() {
	p.mode = types.ProfileOff
	p.session = nil
	p.times = nil
	p.results = nil
}

// beginBatch hands the profiler to a batch. The display rate is optional
// here: a batch still runs when it is unknown.
func (p *Profiler) beginBatch() error {
	switch p.mode {
	case types.ProfileOff:
	case types.ProfileBatchOwned:
		return ErrBatchOwned
	default:
		return fmt.Errorf("%w: %s", ErrProfileActive, p.mode)
	}
	rate, err := p.display.FrameRate()
	if err != nil {
		p.log.Warn().Err(err).Msg("batch profile has no frame rate")
	}
	p.mode = types.ProfileBatchOwned
	p.session = &types.ProfileSession{
		ID:        uuid.NewString(),
		Mode:      types.ProfileBatchOwned,
		Start:     time.Now(),
		FrameRate: rate,
		Screen:    p.screen,
	}
	return nil
}

func (p *Profiler) setHostStart(ack float64) {
	if p.session != nil {
		p.session.HostStart = ack
	}
}

// abortBatch releases the profiler without keeping the session.
func (p *Profiler) abortBatch() {
	if p.mode == types.ProfileBatchOwned {
		p.reset()
	}
}

// endBatch stores a finished batch. Flush times are the configured field of
// every result whose code is flushCode.
func (p *Profiler) endBatch(results *types.CommandResults, ack float64, flushCode uint16, hasFlush bool) types.ProfileSession {
	s := p.session
	if s == nil {
		s = &types.ProfileSession{ID: uuid.NewString(), Mode: types.ProfileBatchOwned}
	}
	s.End = time.Now()
	s.HostEnd = ack
	s.Results = results

	s.FlushTimes = []float64{}
	if hasFlush {
		field := results.Field(p.field)
		for i, code := range results.CommandCode {
			if code == flushCode {
				s.FlushTimes = append(s.FlushTimes, field[i])
			}
		}
	}
	p.history = append(p.history, *s)
	p.reset()
	return *s
}

// History returns finished sessions, oldest first.
func (p *Profiler) History() []types.ProfileSession {
	return append([]types.ProfileSession(nil), p.history...)
}

// Last returns the most recent finished session.
func (p *Profiler) Last() (types.ProfileSession, bool) {
	if len(p.history) == 0 {
		return types.ProfileSession{}, false
	}
	return p.history[len(p.history)-1], true
}

// AddHistory appends a session loaded from elsewhere.
func (p *Profiler) AddHistory(s types.ProfileSession) {
	p.history = append(p.history, s)
}
