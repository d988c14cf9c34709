package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/types"
)

// StateError reports a batch operation called in the wrong state.
type StateError struct {
	Op    string
	State types.BatchState
	Want  types.BatchState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("batch %s: state is %s, want %s", e.Op, e.State, e.Want)
}

// Batch drives the host's batch mode: commands sent after Start are queued by
// the host, Run executes them, End collects one result per command.
type Batch struct {
	ch      *Channel
	prof    *Profiler
	state   types.BatchState
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewBatch(ch *Channel, prof *Profiler, log zerolog.Logger, m *metrics.Metrics) *Batch {
	return &Batch{
		ch:      ch,
		prof:    prof,
		log:     log.With().Str("component", "batch").Logger(),
		metrics: m,
	}
}

func (b *Batch) State() types.BatchState { return b.state }

func (b *Batch) want(op string, s types.BatchState) error {
	if b.state != s {
		b.log.Warn().Str("op", op).Stringer("state", b.state).Msg("batch call out of order")
		return &StateError{Op: op, State: b.state, Want: s}
	}
	return nil
}

// abort returns to idle after an I/O failure. The host's batch state is
// unknown at that point.
func (b *Batch) abort(op string, err error) error {
	b.log.Error().Err(err).Str("op", op).Msg("batch aborted")
	b.state = types.BatchIdle
	b.prof.abortBatch()
	return fmt.Errorf("batch %s: %w", op, err)
}

// Start puts the host into batch mode. It is refused while interactive
// profiling is on.
func (b *Batch) Start() error {
	if err := b.want("start", types.BatchIdle); err != nil {
		return err
	}
	if !b.ch.IsOpen() {
		return ErrNotConnected
	}
	if err := b.prof.beginBatch(); err != nil {
		return fmt.Errorf("batch start: %w", err)
	}

	if err := b.ch.WriteCommand(types.CmdStartBatch); err != nil {
		return b.abort("start", err)
	}
	ack, err := b.ch.ReadAck()
	if err != nil {
		return b.abort("start", err)
	}
	b.prof.setHostStart(ack)
	b.state = types.BatchStarted
	b.log.Info().Float64("ack", ack).Msg("batch started")
	return nil
}

// Run tells the host to execute the queued commands.
func (b *Batch) Run() error {
	if err := b.want("run", types.BatchStarted); err != nil {
		return err
	}
	if err := b.ch.WriteCommand(types.CmdProcessBatch); err != nil {
		return b.abort("run", err)
	}
	if _, err := b.ch.ReadAck(); err != nil {
		return b.abort("run", err)
	}
	b.state = types.BatchRunning
	return nil
}

// End waits for the host to finish the batch and returns the profile of the
// executed commands. It blocks until the host reports its command count.
func (b *Batch) End() (types.ProfileSession, error) {
	if err := b.want("end", types.BatchRunning); err != nil {
		return types.ProfileSession{}, err
	}
	b.state = types.BatchEnded

	n, err := b.ch.ReadUint32()
	if err != nil {
		return types.ProfileSession{}, b.abort("end", err)
	}
	if err := b.ch.WriteCommand(types.CmdFinishBatch); err != nil {
		return types.ProfileSession{}, b.abort("end", err)
	}
	ack, err := b.ch.ReadAck()
	if err != nil {
		return types.ProfileSession{}, b.abort("end", err)
	}
	results, err := b.ch.ReadResultsAfterAck(ack, int(n))
	if err != nil {
		return types.ProfileSession{}, b.abort("end", err)
	}

	flushCode, hasFlush := b.ch.Dictionary().Code(types.CmdFlush)
	s := b.prof.endBatch(results, ack, flushCode, hasFlush)
	b.state = types.BatchIdle
	b.metrics.Batch(int(n))
	b.log.Info().Str("session", s.ID).Uint32("commands", n).Int("flushes", len(s.FlushTimes)).Msg("batch finished")
	return s, nil
}
