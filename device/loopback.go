package device

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loopback is an in-memory Transport for tests and the hardware-free
// harness. Frames injected with InjectFrame appear on ReceiveFrame; sends
// are recorded for inspection. A configurable per-transfer duration
// simulates how long the channel is physically busy, which is what the
// pause protocol exists to work around.
type Loopback struct {
	mu           sync.Mutex // the channel lock, same role as Port.mu
	transferTime time.Duration

	incoming chan Frame
	closed   atomic.Bool

	sentMu  sync.Mutex
	sent    []Frame
	sendErr error
}

// NewLoopback creates a loopback whose every transfer occupies the channel
// for transferTime (0 for instant transfers).
func NewLoopback(transferTime time.Duration) *Loopback {
	return &Loopback{
		transferTime: transferTime,
		incoming:     make(chan Frame, 256),
	}
}

// InjectFrame queues a frame for the reader, as if the hardware sent it.
func (l *Loopback) InjectFrame(f Frame) {
	if l.closed.Load() {
		return
	}
	select {
	case l.incoming <- f:
	default:
	}
}

// FailSends makes subsequent sends return err (nil restores success).
func (l *Loopback) FailSends(err error) {
	l.sentMu.Lock()
	l.sendErr = err
	l.sentMu.Unlock()
}

// Sent returns a copy of everything sent so far.
func (l *Loopback) Sent() []Frame {
	l.sentMu.Lock()
	defer l.sentMu.Unlock()
	out := make([]Frame, len(l.sent))
	copy(out, l.sent)
	return out
}

// SentCount returns how many sends completed.
func (l *Loopback) SentCount() int {
	l.sentMu.Lock()
	defer l.sentMu.Unlock()
	return len(l.sent)
}

func (l *Loopback) SendMessage(status, data1, data2 uint8) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	if l.transferTime > 0 {
		time.Sleep(l.transferTime)
	}
	l.mu.Unlock()

	l.sentMu.Lock()
	defer l.sentMu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, Frame{Status: status, Data1: data1, Data2: data2})
	return nil
}

func (l *Loopback) SendExtended(data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	if l.transferTime > 0 {
		time.Sleep(l.transferTime)
	}
	l.mu.Unlock()

	l.sentMu.Lock()
	defer l.sentMu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	ext := make([]byte, len(data))
	copy(ext, data)
	l.sent = append(l.sent, Frame{Status: 0xF0, Extended: ext})
	return nil
}

// ReceiveFrame blocks under the channel lock until a frame arrives or the
// timeout elapses. When a frame is available the lock stays held for the
// simulated transfer duration, mirroring a physical bulk read in flight.
func (l *Loopback) ReceiveFrame(timeout time.Duration) (Frame, error) {
	if l.closed.Load() {
		return Frame{}, ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case f, ok := <-l.incoming:
		if !ok {
			return Frame{}, ErrClosed
		}
		if l.transferTime > 0 {
			time.Sleep(l.transferTime)
		}
		return f, nil
	case <-time.After(timeout):
		return Frame{}, ErrTimeout
	}
}

func (l *Loopback) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.incoming)
	return nil
}
