package engine

import (
	"errors"
	"fmt"

	"github.com/samaelod/pglink/transport"
	"github.com/samaelod/pglink/types"
)

var (
	// ErrSurfaceRejected means the host refused to allocate an off-screen surface.
	ErrSurfaceRejected = errors.New("host rejected surface")

	// ErrNoWindow means the host has no window to report a frame for.
	ErrNoWindow = errors.New("host has no window frame")
)

// replyExtras consumes the data some commands send between the ack and the
// result record. Replay uses it to stay in step with the host.
var replyExtras = map[string]func(c *Channel) error{
	types.CmdCreateTexture: func(c *Channel) error {
		_, _, err := c.readSurfaceReply()
		if errors.Is(err, ErrSurfaceRejected) {
			return nil
		}
		return err
	},
	types.CmdSampleTimestamps: func(c *Channel) error {
		_, _, err := c.readTimestamps()
		return err
	},
	types.CmdGetWindowFrameInDisplay: func(c *Channel) error {
		_, err := c.readWindowFrame()
		if errors.Is(err, ErrNoWindow) {
			return nil
		}
		return err
	},
	types.CmdFrameGrab: func(c *Channel) error {
		_, err := c.readFrame()
		return err
	},
}

// Ping round-trips a no-op command.
func (c *Channel) Ping() (types.CommandResult, error) {
	if err := c.WriteCommand(types.CmdPing); err != nil {
		return types.CommandResult{}, err
	}
	return c.ReadResult()
}

// SampleTimestamps asks the host for a paired CPU and GPU clock reading.
func (c *Channel) SampleTimestamps() (cpu, gpu float64, err error) {
	if err = c.WriteCommand(types.CmdSampleTimestamps); err != nil {
		return 0, 0, err
	}
	ack, err := c.ReadAck()
	if err != nil {
		return 0, 0, err
	}
	if cpu, gpu, err = c.readTimestamps(); err != nil {
		return 0, 0, err
	}
	_, err = c.ReadResultAfterAck(ack)
	return cpu, gpu, err
}

func (c *Channel) readTimestamps() (float64, float64, error) {
	cpu, err := c.ReadFloat64()
	if err != nil {
		return 0, 0, fmt.Errorf("read cpu time: %w", err)
	}
	gpu, err := c.ReadFloat64()
	if err != nil {
		return 0, 0, fmt.Errorf("read gpu time: %w", err)
	}
	return cpu, gpu, nil
}

// WindowFrame returns the host window's position and size in display pixels.
// A host without a window answers with ErrNoWindow; its result record is still
// consumed.
func (c *Channel) WindowFrame() (types.Screen, error) {
	if err := c.WriteCommand(types.CmdGetWindowFrameInDisplay); err != nil {
		return types.Screen{}, err
	}
	ack, err := c.ReadAck()
	if err != nil {
		return types.Screen{}, err
	}
	s, err := c.readWindowFrame()
	if err != nil && !errors.Is(err, ErrNoWindow) {
		return types.Screen{}, err
	}
	if _, rerr := c.ReadResultAfterAck(ack); rerr != nil {
		return types.Screen{}, rerr
	}
	return s, err
}

func (c *Channel) readWindowFrame() (types.Screen, error) {
	status, err := c.ReadFloat64()
	if err != nil {
		return types.Screen{}, fmt.Errorf("read window frame status: %w", err)
	}
	if status < 0 {
		return types.Screen{}, fmt.Errorf("%w (status %v)", ErrNoWindow, status)
	}
	a, err := c.Read(transport.TypeUint32, 5)
	if err != nil {
		return types.Screen{}, fmt.Errorf("read window frame: %w", err)
	}
	v := a.Uint32s()
	return types.Screen{
		Which:  int(v[0]),
		X:      int(v[1]),
		Y:      int(v[2]),
		Width:  int(v[3]),
		Height: int(v[4]),
	}, nil
}

// CreateSurface allocates a blank RGBA texture of the given size on the host
// and returns its texture number, usable as a render target.
func (c *Channel) CreateSurface(width, height int) (uint32, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("create surface: invalid size %dx%d", width, height)
	}
	if err := c.WriteCommand(types.CmdCreateTexture); err != nil {
		return 0, err
	}
	ack, err := c.ReadAck()
	if err != nil {
		return 0, err
	}
	for _, p := range []transport.Payload{
		transport.Uint32(width),
		transport.Uint32(height),
		transport.Float32s(make([]float32, width*height*4)),
	} {
		if err := c.Write(p); err != nil {
			return 0, err
		}
	}

	num, _, err := c.readSurfaceReply()
	if err != nil && !errors.Is(err, ErrSurfaceRejected) {
		return 0, err
	}
	if _, rerr := c.ReadResultAfterAck(ack); rerr != nil {
		return 0, rerr
	}
	return num, err
}

func (c *Channel) readSurfaceReply() (num, count uint32, err error) {
	status, err := c.ReadFloat64()
	if err != nil {
		return 0, 0, fmt.Errorf("read surface status: %w", err)
	}
	if status < 0 {
		return 0, 0, fmt.Errorf("%w (status %v)", ErrSurfaceRejected, status)
	}
	if num, err = c.ReadUint32(); err != nil {
		return 0, 0, fmt.Errorf("read surface number: %w", err)
	}
	if count, err = c.ReadUint32(); err != nil {
		return 0, 0, fmt.Errorf("read surface count: %w", err)
	}
	return num, count, nil
}

// SetRenderTarget directs drawing at texture n. Zero selects the screen.
func (c *Channel) SetRenderTarget(n uint32) error {
	if err := c.WriteCommand(types.CmdSetRenderTarget); err != nil {
		return err
	}
	if err := c.Write(transport.Uint32(n)); err != nil {
		return err
	}
	_, err := c.ReadResult()
	return err
}

// FrameGrab reads back the pixels of the current render target.
func (c *Channel) FrameGrab() (types.Frame, error) {
	if err := c.WriteCommand(types.CmdFrameGrab); err != nil {
		return types.Frame{}, err
	}
	ack, err := c.ReadAck()
	if err != nil {
		return types.Frame{}, err
	}
	f, err := c.readFrame()
	if err != nil {
		return types.Frame{}, err
	}
	if _, err := c.ReadResultAfterAck(ack); err != nil {
		return types.Frame{}, err
	}
	return f, nil
}

func (c *Channel) readFrame() (types.Frame, error) {
	a, err := c.Read(transport.TypeUint32, 3)
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	hdr := a.Uint32s()
	w, h := int(hdr[0]), int(hdr[1])
	if w == 0 || h == 0 {
		return types.Frame{Width: w, Height: h}, nil
	}
	px, err := c.Read(transport.TypeFloat32, h, w, 4)
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame %dx%d: %w", w, h, err)
	}
	return types.Frame{Width: w, Height: h, Pixels: px.Float32s()}, nil
}
