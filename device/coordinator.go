package device

import (
	"sync/atomic"
	"time"
)

// DefaultPauseTimeout bounds how long a writer waits for the reader to
// park. Generous next to the reader's own receive timeout; if it elapses
// the writer proceeds without the exclusivity guarantee rather than
// deadlocking.
const DefaultPauseTimeout = 100 * time.Millisecond

// resumePollInterval is how often a parked reader re-checks the pause
// flag. Resume latency tolerance is loose, so flag polling suffices and no
// wake signal is needed.
const resumePollInterval = time.Millisecond

// Coordinator implements the cooperative pause handshake between the one
// hardware-polling goroutine and batch writers. The reader checks for a
// pause request only at its safe boundary, immediately before starting a
// blocking transfer and never during one, so an acknowledged pause
// guarantees the channel is idle.
//
// The protocol is signaling only. Mutual exclusion on the channel itself
// lives inside the Transport; pausing merely lets a writer batch many lock
// acquisitions into one uncontended window.
type Coordinator struct {
	pauseRequested atomic.Bool
	ack            chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{ack: make(chan struct{}, 1)}
}

// Pause requests the reader to park and waits up to timeout for the
// acknowledgement. True means the reader confirmed it is idle and will stay
// parked until Resume. False is a soft failure: the reader did not park in
// time (it may be stuck in a long transfer); the caller may proceed anyway
// but without the uncontended-window guarantee. Pause never deadlocks and
// never force-stops the reader.
func (c *Coordinator) Pause(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultPauseTimeout
	}
	// Discard a stale acknowledgement from a previously timed-out pause.
	select {
	case <-c.ack:
	default:
	}

	c.pauseRequested.Store(true)
	select {
	case <-c.ack:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Resume clears the pause request. The parked reader notices on its next
// flag poll and returns to normal polling. Never blocks.
func (c *Coordinator) Resume() {
	c.pauseRequested.Store(false)
}

// PauseRequested reports whether a pause is currently requested.
func (c *Coordinator) PauseRequested() bool {
	return c.pauseRequested.Load()
}

// PausePoint is the reader's safe boundary. If a pause is requested it
// acknowledges once, then parks until the request is cleared or stop is
// set. No-op when no pause is pending; the reader calls this before every
// blocking receive.
func (c *Coordinator) PausePoint(stop *atomic.Bool) {
	if !c.pauseRequested.Load() {
		return
	}
	select {
	case c.ack <- struct{}{}:
	default:
	}
	for c.pauseRequested.Load() {
		if stop != nil && stop.Load() {
			return
		}
		time.Sleep(resumePollInterval)
	}
}
