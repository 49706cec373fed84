// Package device talks to the APC Mini: the physical (or simulated) MIDI
// channel, the hardware reader goroutine that polls it, and the cooperative
// pause protocol that lets batch writers borrow the channel without ever
// interrupting a transfer in flight.
package device

import (
	"errors"
	"time"
)

var (
	// ErrTimeout means no frame arrived within the receive window. Normal
	// polling outcome, not a fault.
	ErrTimeout = errors.New("device: receive timeout")

	// ErrTransfer wraps a failed physical transfer.
	ErrTransfer = errors.New("device: transfer failed")

	// ErrClosed means the transport has been shut down.
	ErrClosed = errors.New("device: transport closed")

	// ErrNotConnected means no matching hardware port was found.
	ErrNotConnected = errors.New("device: not connected")
)

// Frame is one raw unit received from the channel: either a fixed 3-byte
// message, or an extended message whose complete bytes ride in Extended.
type Frame struct {
	Status uint8
	Data1  uint8
	Data2  uint8

	// Extended holds the full wire bytes (0xF0 .. 0xF7) for extended
	// messages; nil for fixed messages.
	Extended []byte
}

// IsExtended reports whether the frame carries an extended message.
func (f Frame) IsExtended() bool {
	return len(f.Extended) > 0
}

// Transport is one exclusively-owned communication channel. Every method
// performing a physical transfer acquires the transport's internal channel
// lock for the duration of exactly one transfer and releases it the moment
// the transfer returns, whatever the outcome. That lock is the correctness
// guarantee; the Coordinator's pause protocol only batches acquisitions.
type Transport interface {
	// SendMessage transmits one fixed 3-byte message.
	SendMessage(status, data1, data2 uint8) error

	// SendExtended transmits a complete extended message (framing bytes
	// included).
	SendExtended(data []byte) error

	// ReceiveFrame blocks until one frame arrives or the timeout elapses.
	// Called only by the hardware reader goroutine; this is the one
	// legitimate blocking operation in the core.
	ReceiveFrame(timeout time.Duration) (Frame, error)

	Close() error
}
