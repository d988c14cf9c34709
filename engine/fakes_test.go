package engine

import (
	"bytes"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/schema"
	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

const testHeader = `typedef enum mglCommandCode {
    mglPing = 0,
    mglFlush = 1,
    mglStartBatch = 2,
    mglProcessBatch = 3,
    mglFinishBatch = 4,
    mglSetRenderTarget = 5,
    mglCreateTexture = 6,
    mglFrameGrab = 7,
    mglSampleTimestamps = 8,
    mglGetWindowFrameInDisplay = 9,
    mglSetClearColor = 10,
    mglUnknownCommand = UINT16_MAX
} mglCommandCode;
`

const (
	codePing       uint16 = 0
	codeFlush      uint16 = 1
	codeStartBatch uint16 = 2
	codeClearColor uint16 = 10
)

// fakeHost plays the host side of a connection: replies are scripted up
// front and everything the client writes is captured.
type fakeHost struct {
	net.Conn
	replies *bytes.Reader
	written bytes.Buffer
}

func (h *fakeHost) Read(p []byte) (int, error)  { return h.replies.Read(p) }
func (h *fakeHost) Write(p []byte) (int, error) { return h.written.Write(p) }
func (h *fakeHost) Close() error                { return nil }

func testDict(t *testing.T) *schema.Dictionary {
	t.Helper()
	d, err := schema.Parse(testHeader)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

// newTestChannel returns a channel whose host answers with the bytes built
// by r.
func newTestChannel(t *testing.T, r *replies) (*Channel, *fakeHost) {
	t.Helper()
	h := &fakeHost{replies: bytes.NewReader(r.bytes())}
	conn := transport.NewConn(h, "", zerolog.Nop())
	return NewChannel(conn, testDict(t), zerolog.Nop(), nil), h
}

// replies builds a host byte stream in wire order.
type replies struct {
	t *testing.T
	b []byte
}

func newReplies(t *testing.T) *replies { return &replies{t: t} }

func (r *replies) put(p transport.Payload) *replies {
	r.t.Helper()
	b, err := transport.Encode(p)
	if err != nil {
		r.t.Fatalf("Encode: %v", err)
	}
	r.b = append(r.b, b...)
	return r
}

func (r *replies) f64(vs ...float64) *replies {
	for _, v := range vs {
		r.put(transport.Float64(v))
	}
	return r
}

func (r *replies) u32(vs ...uint32) *replies {
	for _, v := range vs {
		r.put(transport.Uint32(v))
	}
	return r
}

func (r *replies) f32s(vs []float32) *replies { return r.put(transport.Float32s(vs)) }

// block appends a result block for rs, field by field. The ack is not
// included.
func (r *replies) block(rs ...types.CommandResult) *replies {
	for _, c := range rs {
		r.put(transport.Uint16(c.CommandCode))
	}
	for _, c := range rs {
		r.put(transport.Uint32(c.Success))
	}
	for _, f := range []func(types.CommandResult) float64{
		func(c types.CommandResult) float64 { return c.ProcessedTime },
		func(c types.CommandResult) float64 { return c.VertexStart },
		func(c types.CommandResult) float64 { return c.VertexEnd },
		func(c types.CommandResult) float64 { return c.FragmentStart },
		func(c types.CommandResult) float64 { return c.FragmentEnd },
		func(c types.CommandResult) float64 { return c.DrawableAcquired },
		func(c types.CommandResult) float64 { return c.DrawablePresented },
	} {
		for _, c := range rs {
			r.f64(f(c))
		}
	}
	return r
}

// result appends an ack followed by a single-record block.
func (r *replies) result(ack float64, c types.CommandResult) *replies {
	return r.f64(ack).block(c)
}

// flushAt is a successful flush result presented at ts.
func flushAt(ts float64) types.CommandResult {
	return types.CommandResult{CommandCode: codeFlush, Success: 1, ProcessedTime: ts - 0.001, DrawablePresented: ts}
}

func (r *replies) bytes() []byte { return r.b }

// u16 encodes code the way WriteCommand sends it.
func u16(t *testing.T, code uint16) []byte {
	t.Helper()
	b, err := transport.Encode(transport.Uint16(code))
	if err != nil {
		t.Fatal(err)
	}
	return b
}
