package engine

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

func TestReadResultConsumesOneRecord(t *testing.T) {
	want := types.CommandResult{
		Ack: 10.5, CommandCode: codeFlush, Success: 1,
		ProcessedTime: 1, VertexStart: 2, VertexEnd: 3, FragmentStart: 4,
		FragmentEnd: 5, DrawableAcquired: 6, DrawablePresented: 7,
	}
	r := newReplies(t).result(want.Ack, want)
	if n := len(r.bytes()); n != 8+62 {
		t.Fatalf("scripted %d bytes, want 70", n)
	}
	ch, h := newTestChannel(t, r)

	got, err := ch.ReadResult()
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
	if h.replies.Len() != 0 {
		t.Fatalf("%d bytes left unread", h.replies.Len())
	}
}

func TestReadResultsAligned(t *testing.T) {
	rs := []types.CommandResult{flushAt(1.0), {CommandCode: codeClearColor, Success: 1}, flushAt(1.5)}
	ch, _ := newTestChannel(t, newReplies(t).f64(3).block(rs...))

	got, err := ch.ReadResults(len(rs))
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if got.Len() != 3 || got.Ack != 3 {
		t.Fatalf("Len = %d, Ack = %v", got.Len(), got.Ack)
	}
	for i, want := range rs {
		want.Ack = 3
		if got.At(i) != want {
			t.Errorf("record %d = %+v, want %+v", i, got.At(i), want)
		}
	}
}

func TestReadResultsZero(t *testing.T) {
	ch, _ := newTestChannel(t, newReplies(t))
	got, err := ch.ReadResultsAfterAck(1, 0)
	if err != nil {
		t.Fatalf("ReadResultsAfterAck: %v", err)
	}
	if got.Len() != 0 {
		t.Fatalf("Len = %d", got.Len())
	}
}

func TestWriteCommandSendsCode(t *testing.T) {
	ch, h := newTestChannel(t, newReplies(t))
	if err := ch.WriteCommand(types.CmdFlush); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	if !bytes.Equal(h.written.Bytes(), u16(t, codeFlush)) {
		t.Fatalf("wrote %v", h.written.Bytes())
	}
}

func TestWriteCommandUnknownWritesNothing(t *testing.T) {
	ch, h := newTestChannel(t, newReplies(t))
	err := ch.WriteCommand("mglDoesNotExist")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
	if h.written.Len() != 0 {
		t.Fatalf("wrote %d bytes", h.written.Len())
	}
}

func TestShortReadClosesChannel(t *testing.T) {
	ch, _ := newTestChannel(t, newReplies(t).f64(1).u32(7))

	_, err := ch.ReadResult()
	if !errors.Is(err, transport.ErrConnectionClosed) {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
	var re *transport.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ReadError", err)
	}
	if ch.IsOpen() {
		t.Fatal("channel still open after connection loss")
	}
	if err := ch.WriteCommand(types.CmdPing); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("after loss err = %v, want ErrNotConnected", err)
	}
}

func TestNilChannel(t *testing.T) {
	var ch *Channel
	if err := ch.WriteCommand(types.CmdFlush); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("WriteCommand err = %v", err)
	}
	if err := ch.Write(transport.Uint32(1)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Write err = %v", err)
	}
	if _, err := ch.ReadResult(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ReadResult err = %v", err)
	}
	if _, err := ch.ReadAck(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ReadAck err = %v", err)
	}
	if _, err := ch.ReadResultsAfterAck(1, 2); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ReadResultsAfterAck err = %v", err)
	}
	if _, err := ch.ReplayCommand(types.LogEntry{Code: codePing, Chunks: [][]byte{u16(t, codePing)}}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("ReplayCommand err = %v", err)
	}
	if _, err := ch.WindowFrame(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("WindowFrame err = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close err = %v", err)
	}
}

func TestOpenChannelMissingSchema(t *testing.T) {
	dir := t.TempDir()
	addr := filepath.Join(dir, "host.sock")
	ln, err := net.Listen("unix", addr)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := OpenChannel(ctx, addr, time.Second, filepath.Join(dir, "missing.h"), zerolog.Nop(), nil)
	if err == nil {
		t.Fatal("expected schema error")
	}
	if ch != nil {
		t.Fatal("channel returned with no schema")
	}
}

func TestHostHelpers(t *testing.T) {
	t.Run("window frame", func(t *testing.T) {
		r := newReplies(t).f64(1, 0).u32(1, 10, 20, 640, 480).block(types.CommandResult{CommandCode: 9, Success: 1})
		ch, _ := newTestChannel(t, r)
		s, err := ch.WindowFrame()
		if err != nil {
			t.Fatalf("WindowFrame: %v", err)
		}
		want := types.Screen{Which: 1, X: 10, Y: 20, Width: 640, Height: 480}
		if s != want {
			t.Fatalf("got %+v, want %+v", s, want)
		}
	})

	t.Run("no window", func(t *testing.T) {
		r := newReplies(t).f64(1, -1).block(types.CommandResult{CommandCode: 9}).
			result(2, types.CommandResult{CommandCode: codePing, Success: 1})
		ch, h := newTestChannel(t, r)
		if _, err := ch.WindowFrame(); !errors.Is(err, ErrNoWindow) {
			t.Fatalf("err = %v, want ErrNoWindow", err)
		}
		res, err := ch.Ping()
		if err != nil || res.Ack != 2 || res.CommandCode != codePing || res.Success != 1 {
			t.Fatalf("ping after no-window reply = %+v, %v", res, err)
		}
		if h.replies.Len() != 0 {
			t.Fatalf("%d bytes left unread", h.replies.Len())
		}
	})

	t.Run("sample timestamps", func(t *testing.T) {
		r := newReplies(t).f64(1, 100.25, 200.5).block(types.CommandResult{CommandCode: 8, Success: 1})
		ch, _ := newTestChannel(t, r)
		cpu, gpu, err := ch.SampleTimestamps()
		if err != nil || cpu != 100.25 || gpu != 200.5 {
			t.Fatalf("got %v %v %v", cpu, gpu, err)
		}
	})

	t.Run("create surface", func(t *testing.T) {
		r := newReplies(t).f64(1, 0).u32(3, 3).block(types.CommandResult{CommandCode: 6, Success: 1})
		ch, h := newTestChannel(t, r)
		n, err := ch.CreateSurface(2, 2)
		if err != nil || n != 3 {
			t.Fatalf("got %v %v", n, err)
		}
		// code, width, height, 2*2*4 floats
		if want := 2 + 4 + 4 + 16*4; h.written.Len() != want {
			t.Fatalf("wrote %d bytes, want %d", h.written.Len(), want)
		}
	})

	t.Run("create surface rejected", func(t *testing.T) {
		r := newReplies(t).f64(1, -1).block(types.CommandResult{CommandCode: 6})
		ch, h := newTestChannel(t, r)
		if _, err := ch.CreateSurface(1, 1); !errors.Is(err, ErrSurfaceRejected) {
			t.Fatalf("err = %v, want ErrSurfaceRejected", err)
		}
		if h.replies.Len() != 0 {
			t.Fatalf("%d bytes left unread", h.replies.Len())
		}
	})

	t.Run("frame grab", func(t *testing.T) {
		px := []float32{1, 0, 0, 1, 0, 1, 0, 1}
		r := newReplies(t).f64(1).u32(2, 1, uint32(len(px)*4)).f32s(px).block(types.CommandResult{CommandCode: 7, Success: 1})
		ch, _ := newTestChannel(t, r)
		f, err := ch.FrameGrab()
		if err != nil {
			t.Fatalf("FrameGrab: %v", err)
		}
		if f.Width != 2 || f.Height != 1 || len(f.Pixels) != 8 || f.Pixels[5] != 1 {
			t.Fatalf("got %+v", f)
		}
	})
}

func TestReplayCommandDrainsExtras(t *testing.T) {
	tests := []struct {
		name  string
		code  uint16
		extra func(r *replies) *replies
	}{
		{"create texture rejected", 6, func(r *replies) *replies { return r.f64(-1) }},
		{"create texture", 6, func(r *replies) *replies { return r.f64(0).u32(4, 4) }},
		{"sample timestamps", 8, func(r *replies) *replies { return r.f64(100.25, 200.5) }},
		{"no window", 9, func(r *replies) *replies { return r.f64(-1) }},
		{"window frame", 9, func(r *replies) *replies { return r.f64(0).u32(1, 0, 0, 640, 480) }},
		{"empty frame grab", 7, func(r *replies) *replies { return r.u32(0, 0, 0) }},
		{"frame grab", 7, func(r *replies) *replies { return r.u32(1, 1, 16).f32s([]float32{1, 1, 1, 1}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.extra(newReplies(t).f64(1)).block(types.CommandResult{CommandCode: tt.code}).
				result(2, types.CommandResult{CommandCode: codePing, Success: 1})
			ch, h := newTestChannel(t, r)

			res, err := ch.ReplayCommand(types.LogEntry{Code: tt.code, Chunks: [][]byte{u16(t, tt.code)}})
			if err != nil {
				t.Fatalf("ReplayCommand: %v", err)
			}
			if res.CommandCode != tt.code || res.Ack != 1 {
				t.Fatalf("result = %+v", res)
			}
			if res, err := ch.Ping(); err != nil || res.Ack != 2 || res.CommandCode != codePing {
				t.Fatalf("next command read %+v, %v", res, err)
			}
			if h.replies.Len() != 0 {
				t.Fatalf("%d bytes left unread", h.replies.Len())
			}
		})
	}
}
