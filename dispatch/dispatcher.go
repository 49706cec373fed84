// Package dispatch routes device events from the queue to registered
// observers. The dispatcher owns the queue's consumer side: a single
// polling loop drains it in bounded batches, applies the global filter and
// feedback suppression, and fans each surviving record out to every enabled
// callback whose filter accepts it.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"

	"padctl/debug"
	"padctl/event"
	"padctl/queue"
)

const (
	// DefaultMaxCallbacks bounds the registry.
	DefaultMaxCallbacks = 32

	// DefaultMaxBatch bounds one drain pass so the dispatch goroutine
	// stays responsive.
	DefaultMaxBatch = 32

	// DefaultFeedbackWindow is how soon after a UI-sourced record another
	// UI-sourced record is treated as a probable hardware echo.
	DefaultFeedbackWindow = 50 * time.Millisecond
)

// CallbackID identifies a registration. 0 is the failure sentinel.
type CallbackID uint32

// Callback receives records synchronously on the dispatch goroutine.
// Implementations that need another goroutine (the TUI does) must marshal
// the record themselves and return quickly.
type Callback func(event.Record)

type callbackEntry struct {
	id      CallbackID
	filter  Filter
	fn      Callback
	enabled bool
}

// Dispatcher classifies and delivers device events. Producers call Submit
// from any goroutine; Drain must only run on the single consumer goroutine
// (normally the Loop's).
type Dispatcher struct {
	q *queue.Queue

	mu           sync.Mutex // registry + priority table + global filter
	callbacks    []callbackEntry
	maxCallbacks int
	nextID       atomic.Uint32
	global       Filter
	priorities   *event.PriorityTable

	suppressEcho atomic.Bool
	windowNanos  atomic.Int64
	lastUINanos  atomic.Int64

	metrics metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxCallbacks sets the registry bound.
func WithMaxCallbacks(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxCallbacks = n
		}
	}
}

// WithFeedbackWindow sets the echo-suppression window.
func WithFeedbackWindow(w time.Duration) Option {
	return func(d *Dispatcher) {
		if w > 0 {
			d.windowNanos.Store(int64(w))
		}
	}
}

// WithGlobalFilter replaces the initial accept-everything global filter.
func WithGlobalFilter(f Filter) Option {
	return func(d *Dispatcher) { d.global = f }
}

// New creates a dispatcher consuming from q.
func New(q *queue.Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		q:            q,
		maxCallbacks: DefaultMaxCallbacks,
		global:       Everything(),
		priorities:   event.NewPriorityTable(),
	}
	d.suppressEcho.Store(true)
	d.windowNanos.Store(int64(DefaultFeedbackWindow))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Queue exposes the underlying queue for metrics readers.
func (d *Dispatcher) Queue() *queue.Queue { return d.q }

// Submit builds a record for a fixed 3-byte message and enqueues it.
// Safe from any goroutine; never blocks. False means the queue was full and
// the message was dropped.
func (d *Dispatcher) Submit(status, data1, data2 uint8, source event.Source) bool {
	rec := event.New(status, data1, data2, source)
	rec.Priority = d.PriorityFor(status)
	return d.q.Enqueue(rec)
}

// SubmitExtended enqueues a routing stub for an extended (SysEx) message.
// Only the length hint and the first payload bytes travel through the
// queue; the payload itself is carried out of band by the transport.
func (d *Dispatcher) SubmitExtended(data []byte, source event.Source) bool {
	if len(data) == 0 {
		return false
	}
	rec := event.New(event.SysExStart, 0, 0, source)
	if len(data) > 1 {
		rec.Data1 = data[1]
	}
	if len(data) > 2 {
		rec.Data2 = data[2]
	}
	length := len(data)
	if length > 0xFFFF {
		length = 0xFFFF
	}
	rec.ExtendedLength = uint16(length)
	rec.Priority = d.PriorityFor(event.SysExStart)
	return d.q.Enqueue(rec)
}

// Register adds a callback with an interest filter. Returns 0 when the
// registry is full.
func (d *Dispatcher) Register(filter Filter, fn Callback) CallbackID {
	if fn == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.callbacks) >= d.maxCallbacks {
		return 0
	}
	id := CallbackID(d.nextID.Add(1))
	d.callbacks = append(d.callbacks, callbackEntry{
		id:      id,
		filter:  filter,
		fn:      fn,
		enabled: true,
	})
	return id
}

// Unregister removes a callback. Unknown ids are ignored.
func (d *Dispatcher) Unregister(id CallbackID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.callbacks {
		if d.callbacks[i].id == id {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// SetEnabled toggles a registration without removing it.
func (d *Dispatcher) SetEnabled(id CallbackID, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.callbacks {
		if d.callbacks[i].id == id {
			d.callbacks[i].enabled = enabled
			return
		}
	}
}

// SetGlobalFilter replaces the dispatcher-wide filter.
func (d *Dispatcher) SetGlobalFilter(f Filter) {
	d.mu.Lock()
	d.global = f
	d.mu.Unlock()
}

// GlobalFilter returns the current dispatcher-wide filter.
func (d *Dispatcher) GlobalFilter() Filter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.global
}

// SetFeedbackSuppression toggles UI echo suppression.
func (d *Dispatcher) SetFeedbackSuppression(enabled bool) {
	d.suppressEcho.Store(enabled)
}

// SetFeedbackWindow adjusts the echo window at runtime.
func (d *Dispatcher) SetFeedbackWindow(w time.Duration) {
	if w > 0 {
		d.windowNanos.Store(int64(w))
	}
}

// SetPriority overrides the delivery priority for one status byte.
func (d *Dispatcher) SetPriority(status uint8, p event.Priority) {
	d.mu.Lock()
	d.priorities.Set(status, p)
	d.mu.Unlock()
}

// PriorityFor returns the configured priority for a status byte.
func (d *Dispatcher) PriorityFor(status uint8) event.Priority {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priorities.For(status)
}

// Drain pulls up to maxBatch records off the queue and delivers each one.
// Returns the number of records pulled. Single consumer only.
func (d *Dispatcher) Drain(maxBatch int) int {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	var rec event.Record
	n := 0
	for n < maxBatch && d.q.Dequeue(&rec) {
		d.process(rec)
		n++
	}
	d.metrics.queueDepth.Store(d.q.Depth())
	return n
}

// ProcessOne delivers a single record, bypassing the queue. Used by tests
// and by producers that already hold a record.
func (d *Dispatcher) ProcessOne(rec event.Record) {
	d.process(rec)
}

func (d *Dispatcher) process(rec event.Record) {
	start := time.Now()

	if !d.shouldProcess(rec) {
		d.metrics.filtered.Add(1)
		return
	}

	d.runCallbacks(rec)

	if rec.Source == event.SourceUI {
		d.lastUINanos.Store(time.Now().UnixNano())
	}
	d.metrics.noteProcessing(time.Since(start))
	d.metrics.processed.Add(1)
}

func (d *Dispatcher) shouldProcess(rec event.Record) bool {
	d.mu.Lock()
	global := d.global
	d.mu.Unlock()
	if !global.Accept(rec) {
		return false
	}

	// A UI record arriving hard on the heels of the previous one is most
	// likely the hardware echoing our own state change back at us.
	if d.suppressEcho.Load() && rec.Source == event.SourceUI {
		last := d.lastUINanos.Load()
		if last != 0 && time.Now().UnixNano()-last < d.windowNanos.Load() {
			return false
		}
	}
	return true
}

func (d *Dispatcher) runCallbacks(rec event.Record) {
	// Snapshot under the lock so callbacks run without holding it;
	// registration changes mid-delivery apply from the next record.
	d.mu.Lock()
	entries := make([]callbackEntry, len(d.callbacks))
	copy(entries, d.callbacks)
	d.mu.Unlock()

	for _, entry := range entries {
		if !entry.enabled || !entry.filter.Accept(rec) {
			continue
		}
		if r := panics.Try(func() { entry.fn(rec) }); r != nil {
			// One misbehaving observer must not break delivery to the
			// rest, or kill the dispatch loop.
			d.metrics.callbackPanics.Add(1)
			debug.Log("dispatch", "callback %d panicked: %v", entry.id, r.Value)
			continue
		}
		d.metrics.callbackRuns.Add(1)
	}
}
