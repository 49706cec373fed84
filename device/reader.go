package device

import (
	"errors"
	"sync/atomic"
	"time"

	"padctl/debug"
	"padctl/dispatch"
	"padctl/event"
)

const (
	// DefaultReceiveTimeout bounds one blocking receive. Timeouts are the
	// normal idle outcome and simply loop back to the pause check.
	DefaultReceiveTimeout = 100 * time.Millisecond

	// errorBackoff is the pause after a failed transfer before retrying.
	errorBackoff = 10 * time.Millisecond
)

// Reader is the long-lived hardware-polling goroutine. It loops: pause
// check at the safe boundary, one blocking receive bounded by the
// transport timeout, then a non-blocking submit into the dispatcher.
type Reader struct {
	transport Transport
	d         *dispatch.Dispatcher
	coord     *Coordinator
	source    event.Source
	timeout   time.Duration

	running atomic.Bool
	stop    atomic.Bool
	done    chan struct{}

	stats readerStats
}

type readerStats struct {
	received      atomic.Uint64
	errors        atomic.Uint64
	padPresses    atomic.Uint64
	buttonPresses atomic.Uint64
	faderMoves    atomic.Uint64
	minGapMicros  atomic.Uint64 // tightest observed inter-frame gap
	maxGapMicros  atomic.Uint64
	pauseTimeouts atomic.Uint64
}

// ReaderStats is a snapshot of reader counters.
type ReaderStats struct {
	Received      uint64
	Errors        uint64
	PadPresses    uint64
	ButtonPresses uint64
	FaderMoves    uint64
	MinGap        time.Duration
	MaxGap        time.Duration
	PauseTimeouts uint64
}

// NewReader wires a reader to a transport and dispatcher. The coordinator
// is shared with whoever performs batch writes on the same channel.
func NewReader(t Transport, d *dispatch.Dispatcher, coord *Coordinator, source event.Source) *Reader {
	r := &Reader{
		transport: t,
		d:         d,
		coord:     coord,
		source:    source,
		timeout:   DefaultReceiveTimeout,
	}
	r.stats.minGapMicros.Store(^uint64(0))
	return r
}

// SetReceiveTimeout adjusts the per-receive bound. Call before Start.
func (r *Reader) SetReceiveTimeout(timeout time.Duration) {
	if timeout > 0 {
		r.timeout = timeout
	}
}

// Start launches the polling goroutine.
func (r *Reader) Start() error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("device: reader already running")
	}
	r.stop.Store(false)
	r.done = make(chan struct{})
	go r.loop()
	return nil
}

// Stop asks the goroutine to exit and waits, bounded by twice the receive
// timeout plus slack for one error backoff.
func (r *Reader) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	r.stop.Store(true)
	select {
	case <-r.done:
		return nil
	case <-time.After(2*r.timeout + time.Second):
		return errors.New("device: reader did not stop in time")
	}
}

// IsRunning reports whether the polling goroutine is active.
func (r *Reader) IsRunning() bool {
	return r.running.Load()
}

// Stats returns the current reader counters.
func (r *Reader) Stats() ReaderStats {
	min := r.stats.minGapMicros.Load()
	if min == ^uint64(0) {
		min = 0
	}
	return ReaderStats{
		Received:      r.stats.received.Load(),
		Errors:        r.stats.errors.Load(),
		PadPresses:    r.stats.padPresses.Load(),
		ButtonPresses: r.stats.buttonPresses.Load(),
		FaderMoves:    r.stats.faderMoves.Load(),
		MinGap:        time.Duration(min) * time.Microsecond,
		MaxGap:        time.Duration(r.stats.maxGapMicros.Load()) * time.Microsecond,
		PauseTimeouts: r.stats.pauseTimeouts.Load(),
	}
}

func (r *Reader) notePauseTimeout() {
	r.stats.pauseTimeouts.Add(1)
}

func (r *Reader) loop() {
	defer close(r.done)

	var lastFrame time.Time
	for !r.stop.Load() {
		// Safe boundary: the only place a pause request is honored. The
		// transfer below runs under the transport's channel lock, so an
		// acknowledged pause means the channel is genuinely idle.
		r.coord.PausePoint(&r.stop)
		if r.stop.Load() {
			return
		}

		frame, err := r.transport.ReceiveFrame(r.timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if errors.Is(err, ErrClosed) {
				return
			}
			r.stats.errors.Add(1)
			debug.Log("reader", "receive: %v", err)
			time.Sleep(errorBackoff)
			continue
		}

		now := time.Now()
		r.stats.received.Add(1)
		if !lastFrame.IsZero() {
			r.noteGap(now.Sub(lastFrame))
		}
		lastFrame = now

		r.classify(frame)
		r.submit(frame)
	}
}

func (r *Reader) classify(f Frame) {
	if f.IsExtended() {
		return
	}
	switch f.Status & 0xF0 {
	case event.NoteOn, event.NoteOff:
		if IsPadNote(f.Data1) {
			r.stats.padPresses.Add(1)
		} else {
			r.stats.buttonPresses.Add(1)
		}
	case event.CC:
		if IsAnyFaderCC(f.Data1) {
			r.stats.faderMoves.Add(1)
		}
	}
}

func (r *Reader) submit(f Frame) {
	var ok bool
	if f.IsExtended() {
		ok = r.d.SubmitExtended(f.Extended, r.source)
	} else {
		ok = r.d.Submit(f.Status, f.Data1, f.Data2, r.source)
	}
	if !ok {
		debug.LogEvery(100, "reader", "queue full, frame dropped")
	}
}

func (r *Reader) noteGap(gap time.Duration) {
	us := uint64(gap / time.Microsecond)
	for {
		cur := r.stats.minGapMicros.Load()
		if us >= cur || r.stats.minGapMicros.CompareAndSwap(cur, us) {
			break
		}
	}
	for {
		cur := r.stats.maxGapMicros.Load()
		if us <= cur || r.stats.maxGapMicros.CompareAndSwap(cur, us) {
			break
		}
	}
}
