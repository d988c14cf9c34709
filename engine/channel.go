package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/metrics"
	"github.com/samaelod/pglink/schema"
	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

var (
	// ErrNotConnected is returned by every operation on a channel that never
	// connected, failed or was closed.
	ErrNotConnected = transport.ErrNotConnected

	// ErrUnknownCommand means the name is not in the host's command schema.
	ErrUnknownCommand = errors.New("unknown command")
)

// commandSink receives a copy of everything written while a recording is
// active.
type commandSink interface {
	recording() bool
	logCommand(code uint16)
	logPayload(b []byte)
}

// Channel runs the synchronous request/response protocol with the host.
// Every WriteCommand must be answered by exactly one result read before the
// next command; there is no pipelining and no internal locking, so a Channel
// belongs to a single goroutine.
type Channel struct {
	conn    *transport.Conn
	dict    *schema.Dictionary
	log     zerolog.Logger
	metrics *metrics.Metrics
	sink    commandSink
}

// NewChannel composes a connection and a dictionary. The channel owns both.
func NewChannel(conn *transport.Conn, dict *schema.Dictionary, log zerolog.Logger, m *metrics.Metrics) *Channel {
	return &Channel{
		conn:    conn,
		dict:    dict,
		log:     log.With().Str("component", "channel").Logger(),
		metrics: m,
	}
}

// OpenChannel connects to the host and loads its command schema. A schema that
// cannot be loaded closes the connection: the channel never runs with an
// empty dictionary.
func OpenChannel(ctx context.Context, addr string, timeout time.Duration, schemaPath string, log zerolog.Logger, m *metrics.Metrics) (*Channel, error) {
	conn, err := transport.Dial(ctx, addr, timeout, log)
	if err != nil {
		return nil, err
	}

	dict, err := schema.Load(schemaPath)
	if err != nil {
		log.Error().Err(err).Str("schema", schemaPath).Msg("closing channel: command schema unavailable")
		conn.Close()
		return nil, err
	}
	log.Info().Int("commands", dict.Len()).Str("schema", schemaPath).Msg("loaded command schema")

	return NewChannel(conn, dict, log, m), nil
}

func (c *Channel) IsOpen() bool {
	return c != nil && c.conn.IsOpen() && c.dict != nil
}

// Dictionary returns the schema in effect for this connection.
func (c *Channel) Dictionary() *schema.Dictionary {
	if c == nil {
		return nil
	}
	return c.dict
}

// Conn exposes the transport for collaborators that need raw reads.
func (c *Channel) Conn() *transport.Conn {
	if c == nil {
		return nil
	}
	return c.conn
}

// Close closes the connection. Safe on a nil or closed channel.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	return c.conn.Close()
}

// WriteCommand looks name up and writes its code as a uint16. Unknown names
// write nothing.
func (c *Channel) WriteCommand(name string) error {
	if !c.IsOpen() {
		return ErrNotConnected
	}

	code, ok := c.dict.Code(name)
	if !ok {
		c.log.Error().Str("command", name).Msg("command not found")
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	c.log.Debug().Str("command", name).Uint16("code", code).Msg("sending command")

	if c.sink != nil && c.sink.recording() {
		c.sink.logCommand(code)
	}
	c.metrics.Command(name)
	return c.Write(transport.Uint16(code))
}

// Write sends one payload value. While recording, the encoded bytes become
// part of the most recent command's log entry.
func (c *Channel) Write(p transport.Payload) error {
	if !c.IsOpen() {
		return ErrNotConnected
	}
	b, err := transport.Encode(p)
	if err != nil {
		return err
	}
	if c.sink != nil && c.sink.recording() {
		c.sink.logPayload(b)
	}
	return c.check("write", c.conn.WriteRaw(b))
}

// Read is the raw typed read used by collaborators after a command.
func (c *Channel) Read(t transport.ElemType, dims ...int) (transport.Array, error) {
	if !c.IsOpen() {
		return transport.Array{}, ErrNotConnected
	}
	a, err := c.conn.Read(t, dims...)
	return a, c.check("read", err)
}

func (c *Channel) ReadUint32() (uint32, error) {
	a, err := c.Read(transport.TypeUint32)
	if err != nil {
		return 0, err
	}
	return a.Uint32s()[0], nil
}

func (c *Channel) ReadFloat64() (float64, error) {
	a, err := c.Read(transport.TypeFloat64)
	if err != nil {
		return 0, err
	}
	return a.Float64s()[0], nil
}

// ReadAck reads the host's acknowledgment time for the last command.
func (c *Channel) ReadAck() (float64, error) {
	if !c.IsOpen() {
		return 0, ErrNotConnected
	}
	ack, err := c.ReadFloat64()
	if err != nil {
		c.metrics.ReadError("ack")
		return 0, fmt.Errorf("read ack: %w", err)
	}
	return ack, nil
}

// ReadResult reads the ack and a single result record.
func (c *Channel) ReadResult() (types.CommandResult, error) {
	ack, err := c.ReadAck()
	if err != nil {
		return types.CommandResult{}, err
	}
	return c.ReadResultAfterAck(ack)
}

// ReadResultAfterAck reads a single result record when the ack was already
// consumed.
func (c *Channel) ReadResultAfterAck(ack float64) (types.CommandResult, error) {
	r, err := c.ReadResultsAfterAck(ack, 1)
	if err != nil {
		return types.CommandResult{}, err
	}
	return r.At(0), nil
}

// ReadResults reads the ack and then n aligned result records.
func (c *Channel) ReadResults(n int) (*types.CommandResults, error) {
	ack, err := c.ReadAck()
	if err != nil {
		return nil, err
	}
	return c.ReadResultsAfterAck(ack, n)
}

// ReadResultsAfterAck reads n result records. Each field arrives as its own
// n-element array in this fixed order: commandCode (u16), success (u32), then
// processedTime, vertexStart, vertexEnd, fragmentStart, fragmentEnd,
// drawableAcquired and drawablePresented (f64).
func (c *Channel) ReadResultsAfterAck(ack float64, n int) (*types.CommandResults, error) {
	if !c.IsOpen() {
		return nil, ErrNotConnected
	}
	if n < 0 {
		return nil, fmt.Errorf("read results: negative count %d", n)
	}
	r := &types.CommandResults{Ack: ack}

	codes, err := c.Read(transport.TypeUint16, n)
	if err != nil {
		return nil, c.resultErr("commandCode", err)
	}
	r.CommandCode = codes.Uint16s()

	success, err := c.Read(transport.TypeUint32, n)
	if err != nil {
		return nil, c.resultErr("success", err)
	}
	r.Success = success.Uint32s()

	times := []struct {
		name string
		dst  *[]float64
	}{
		{"processedTime", &r.ProcessedTime},
		{"vertexStart", &r.VertexStart},
		{"vertexEnd", &r.VertexEnd},
		{"fragmentStart", &r.FragmentStart},
		{"fragmentEnd", &r.FragmentEnd},
		{"drawableAcquired", &r.DrawableAcquired},
		{"drawablePresented", &r.DrawablePresented},
	}
	for _, f := range times {
		a, err := c.Read(transport.TypeFloat64, n)
		if err != nil {
			return nil, c.resultErr(f.name, err)
		}
		*f.dst = a.Float64s()
	}
	return r, nil
}

func (c *Channel) resultErr(field string, err error) error {
	c.metrics.ReadError("results")
	c.log.Error().Err(err).Str("field", field).Msg("error reading command results")
	return fmt.Errorf("read results (%s): %w", field, err)
}

// ReplayCommand sends a recorded entry verbatim, without a name lookup, and
// reads its reply. Commands whose reply carries data before the result record
// have that data consumed and discarded.
func (c *Channel) ReplayCommand(entry types.LogEntry) (types.CommandResult, error) {
	if !c.IsOpen() {
		return types.CommandResult{}, ErrNotConnected
	}
	for _, chunk := range entry.Chunks {
		if err := c.check("replay", c.conn.WriteRaw(chunk)); err != nil {
			return types.CommandResult{}, err
		}
	}
	c.metrics.Replayed()

	ack, err := c.ReadAck()
	if err != nil {
		return types.CommandResult{}, err
	}
	if name, ok := c.dict.Name(entry.Code); ok {
		if drain, ok := replyExtras[name]; ok {
			if err := drain(c); err != nil {
				return types.CommandResult{}, fmt.Errorf("replay %s: %w", name, err)
			}
		}
	}
	return c.ReadResultAfterAck(ack)
}

// check closes the channel when the transport reports a mid-message loss.
func (c *Channel) check(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrConnectionClosed) {
		c.metrics.ConnectionFault()
		c.log.Error().Err(err).Str("stage", stage).Msg("host connection lost, closing channel")
		c.conn.Close()
	}
	return err
}
