// Package transport moves raw protocol values over the local socket shared
// with the rendering host. Messages carry no framing: each one is the native
// byte encoding of a single scalar or flat array, and the reader must already
// know the element type and count it expects.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryInterval is the pause between connection attempts in Dial.
const RetryInterval = 500 * time.Millisecond

type Conn struct {
	addr string
	log  zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewConn wraps an established connection.
func NewConn(c net.Conn, addr string, log zerolog.Logger) *Conn {
	return &Conn{addr: addr, conn: c, log: log.With().Str("component", "transport").Logger()}
}

// Dial connects to the unix socket at addr, retrying every RetryInterval until
// it succeeds, ctx is done or timeout elapses. The host usually creates the
// socket a moment after it is launched, so missing-file and refused errors are
// expected while waiting. On timeout it returns ErrConnectTimeout and a nil
// Conn, which callers can hold: every method on a nil Conn fails with
// ErrNotConnected.
func Dial(ctx context.Context, addr string, timeout time.Duration, log zerolog.Logger) (*Conn, error) {
	log = log.With().Str("component", "transport").Str("addr", addr).Logger()
	deadline := time.Now().Add(timeout)
	var d net.Dialer

	for attempt := 1; ; attempt++ {
		c, err := d.DialContext(ctx, "unix", addr)
		if err == nil {
			log.Info().Int("attempts", attempt).Msg("connected to host")
			return &Conn{addr: addr, conn: c, log: log}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			log.Error().Err(err).Dur("timeout", timeout).Msg("could not connect to host")
			return nil, fmt.Errorf("%w: %s after %v", ErrConnectTimeout, addr, timeout)
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("waiting for host socket")

		select {
		case <-time.After(RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Addr is the socket path.
func (c *Conn) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// IsOpen reports whether the connection can still carry messages.
func (c *Conn) IsOpen() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Conn) netConn() (net.Conn, error) {
	if c == nil {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Write encodes p and sends it whole.
func (c *Conn) Write(p Payload) error {
	b, err := Encode(p)
	if err != nil {
		return err
	}
	return c.WriteRaw(b)
}

// WriteRaw sends b verbatim.
func (c *Conn) WriteRaw(b []byte) error {
	nc, err := c.netConn()
	if err != nil {
		return err
	}
	// net.Conn.Write returns only after all bytes are written or on error.
	if _, err := nc.Write(b); err != nil {
		return fmt.Errorf("write %d bytes: %w", len(b), err)
	}
	c.log.Trace().Int("bytes", len(b)).Msg("sent")
	return nil
}

// RecvExact blocks until exactly n bytes have arrived. If the peer closes
// first it returns an error wrapping ErrConnectionClosed and the connection
// is poisoned.
func (c *Conn) RecvExact(n int) ([]byte, error) {
	nc, err := c.netConn()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := nc.Read(buf[got:])
		got += m
		if got >= n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				c.poison()
				return buf[:got], fmt.Errorf("%w: received %d of %d bytes", ErrConnectionClosed, got, n)
			}
			return buf[:got], fmt.Errorf("receive %d bytes: %w", n, err)
		}
	}
	return buf, nil
}

func (c *Conn) poison() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.log.Error().Msg("host closed the connection mid-message")
}

// Read receives size(t)*product(dims) bytes and returns them shaped as dims.
// With no dims a single element is read.
func (c *Conn) Read(t ElemType, dims ...int) (Array, error) {
	if len(dims) == 0 {
		dims = []int{1}
	}
	count := 1
	for _, d := range dims {
		if d < 0 {
			return Array{}, fmt.Errorf("read %v: negative dimension %d", t, d)
		}
		count *= d
	}
	want := t.Size() * count
	if t.Size() == 0 {
		return Array{}, fmt.Errorf("%w: %v", ErrUnsupportedType, t)
	}

	b, err := c.RecvExact(want)
	if err != nil {
		return Array{}, &ReadError{Type: t, Shape: dims, Expected: want, Got: len(b), Err: err}
	}
	return Array{Type: t, Shape: dims, Data: b}, nil
}

func (c *Conn) ReadUint16() (uint16, error) {
	a, err := c.Read(TypeUint16)
	if err != nil {
		return 0, err
	}
	return a.Uint16s()[0], nil
}

func (c *Conn) ReadUint32() (uint32, error) {
	a, err := c.Read(TypeUint32)
	if err != nil {
		return 0, err
	}
	return a.Uint32s()[0], nil
}

func (c *Conn) ReadFloat64() (float64, error) {
	a, err := c.Read(TypeFloat64)
	if err != nil {
		return 0, err
	}
	return a.Float64s()[0], nil
}

// Close shuts the connection and removes the socket file. Safe to call more
// than once.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	var errs []error
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if c.addr != "" {
		if err := os.Remove(c.addr); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	c.log.Info().Msg("closed connection")
	return errors.Join(errs...)
}
