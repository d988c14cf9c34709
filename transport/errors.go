package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every operation on a nil, closed or
	// poisoned connection.
	ErrNotConnected = errors.New("not connected to host")

	// ErrConnectTimeout is returned by Dial when the host never accepted.
	ErrConnectTimeout = errors.New("timed out connecting to host")

	// ErrConnectionClosed means the peer went away in the middle of a message.
	// Protocol state can no longer be trusted after it.
	ErrConnectionClosed = errors.New("connection closed unexpectedly")

	// ErrUnsupportedType rejects a payload before any bytes are sent.
	ErrUnsupportedType = errors.New("unsupported payload type")
)

// ReadError reports a read that did not produce the expected number of bytes.
type ReadError struct {
	Type     ElemType
	Shape    []int
	Expected int
	Got      int
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %v%v: expected %d bytes, got %d: %v", e.Type, e.Shape, e.Expected, e.Got, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
