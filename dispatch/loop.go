package dispatch

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("dispatch: loop already running")
	ErrNotRunning     = errors.New("dispatch: loop not running")
	ErrStopTimeout    = errors.New("dispatch: loop did not stop in time")
)

// DefaultPollInterval is the sleep between drain passes.
const DefaultPollInterval = time.Millisecond

// Loop owns the queue's consumer goroutine: it repeatedly drains the
// dispatcher in bounded batches, then sleeps for the poll interval. It is
// pure scheduling glue; it never interprets records itself.
type Loop struct {
	d        *Dispatcher
	interval atomic.Int64 // nanoseconds
	maxBatch int

	running  atomic.Bool
	stopFlag atomic.Bool
	done     chan struct{}
}

// NewLoop creates a stopped loop draining d.
func NewLoop(d *Dispatcher, interval time.Duration, maxBatch int) *Loop {
	l := &Loop{d: d, maxBatch: maxBatch}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if l.maxBatch <= 0 {
		l.maxBatch = DefaultMaxBatch
	}
	l.interval.Store(int64(interval))
	return l
}

// SetPollInterval adjusts the drain cadence, effective from the next pass.
func (l *Loop) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		l.interval.Store(int64(interval))
	}
}

// PollInterval returns the current drain cadence.
func (l *Loop) PollInterval() time.Duration {
	return time.Duration(l.interval.Load())
}

// IsRunning reports whether the consumer goroutine is active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Start launches the consumer goroutine.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.stopFlag.Store(false)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		for !l.stopFlag.Load() {
			l.d.Drain(l.maxBatch)
			time.Sleep(time.Duration(l.interval.Load()))
		}
	}()
	return nil
}

// Stop asks the goroutine to exit and waits for it, bounded: the ceiling is
// a hundred poll intervals with a one second floor, so a stuck callback
// cannot hang shutdown forever.
func (l *Loop) Stop() error {
	if !l.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	l.stopFlag.Store(true)

	bound := 100 * time.Duration(l.interval.Load())
	if bound < time.Second {
		bound = time.Second
	}
	select {
	case <-l.done:
		return nil
	case <-time.After(bound):
		return ErrStopTimeout
	}
}
