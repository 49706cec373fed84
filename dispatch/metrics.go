package dispatch

import (
	"sync/atomic"
	"time"
)

// metrics tracks running dispatcher performance. All fields independently
// atomic; snapshots may be mildly inconsistent between fields, which is
// fine for monitoring.
type metrics struct {
	processed      atomic.Uint64
	filtered       atomic.Uint64
	callbackRuns   atomic.Uint64
	callbackPanics atomic.Uint64
	maxProcMicros  atomic.Uint64
	avgProcMicros  atomic.Uint64 // EWMA, weighted 7/8 towards history
	queueDepth     atomic.Uint32
}

// Metrics is a read-only snapshot of dispatcher counters.
type Metrics struct {
	Processed      uint64
	Filtered       uint64
	CallbackRuns   uint64
	CallbackPanics uint64
	MaxProcessing  time.Duration
	AvgProcessing  time.Duration
	QueueDepth     uint32
}

// Metrics returns the current counters.
func (d *Dispatcher) Metrics() Metrics {
	return Metrics{
		Processed:      d.metrics.processed.Load(),
		Filtered:       d.metrics.filtered.Load(),
		CallbackRuns:   d.metrics.callbackRuns.Load(),
		CallbackPanics: d.metrics.callbackPanics.Load(),
		MaxProcessing:  time.Duration(d.metrics.maxProcMicros.Load()) * time.Microsecond,
		AvgProcessing:  time.Duration(d.metrics.avgProcMicros.Load()) * time.Microsecond,
		QueueDepth:     d.metrics.queueDepth.Load(),
	}
}

// ResetMetrics zeroes the dispatcher counters.
func (d *Dispatcher) ResetMetrics() {
	d.metrics.processed.Store(0)
	d.metrics.filtered.Store(0)
	d.metrics.callbackRuns.Store(0)
	d.metrics.callbackPanics.Store(0)
	d.metrics.maxProcMicros.Store(0)
	d.metrics.avgProcMicros.Store(0)
	d.metrics.queueDepth.Store(0)
}

func (m *metrics) noteProcessing(elapsed time.Duration) {
	us := uint64(elapsed / time.Microsecond)

	for {
		cur := m.maxProcMicros.Load()
		if us <= cur || m.maxProcMicros.CompareAndSwap(cur, us) {
			break
		}
	}

	avg := m.avgProcMicros.Load()
	m.avgProcMicros.Store((avg*7 + us) / 8)
}
