// Package can provides the raw frame boundary of the nova-can transport:
// a core Frame type, a Bus abstraction, an in-memory loopback bus for tests
// and simulations, a logging decorator, a frame multiplexer, and a Linux
// SocketCAN driver.
package can

import (
	"context"
	"errors"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations should be safe for concurrent use by multiple goroutines.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation aborts the operation and returns the context error.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It blocks until a frame
	// is available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive may return an error.
	Close() error
}

// ErrClosed indicates the bus or endpoint has been closed.
var ErrClosed = errors.New("can: closed")

// AcceptanceFilter is a hardware filter/mask pair. A frame passes when
// (frame.ID & Mask) == (Filter & Mask). Pairs are produced by the transport
// layer and handed to drivers that support hardware filtering.
type AcceptanceFilter struct {
	Filter uint32
	Mask   uint32
}

// Accepts reports whether the identifier passes the filter.
func (a AcceptanceFilter) Accepts(id uint32) bool {
	return id&a.Mask == a.Filter&a.Mask
}
