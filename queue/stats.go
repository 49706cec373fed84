package queue

import (
	"sync/atomic"
	"time"

	"padctl/event"
)

// stats accumulates queue counters. Every field is independently atomic, so
// a snapshot can be mildly inconsistent between fields under concurrent
// load; that is documented behavior, the counters are diagnostic.
type stats struct {
	enqueued  atomic.Uint64
	dequeued  atomic.Uint64
	dropped   atomic.Uint64
	bySource  [event.SourceCount]atomic.Uint64
	maxDepth  atomic.Uint64
	totalLat  atomic.Uint64 // cumulative consumer latency, microseconds
	maxLat    atomic.Uint64 // peak consumer latency, microseconds
	resetTime atomic.Int64  // unix micros of last reset
}

// Stats is an immutable counter snapshot.
type Stats struct {
	Enqueued     uint64
	Dequeued     uint64
	Dropped      uint64
	BySource     [event.SourceCount]uint64
	MaxDepth     uint64
	TotalLatency time.Duration
	MaxLatency   time.Duration
	SinceReset   time.Duration
}

// AvgLatency is the mean consumer-side latency over all dequeued records.
func (s Stats) AvgLatency() time.Duration {
	if s.Dequeued == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Dequeued)
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	s := Stats{
		Enqueued:     q.stats.enqueued.Load(),
		Dequeued:     q.stats.dequeued.Load(),
		Dropped:      q.stats.dropped.Load(),
		MaxDepth:     q.stats.maxDepth.Load(),
		TotalLatency: time.Duration(q.stats.totalLat.Load()) * time.Microsecond,
		MaxLatency:   time.Duration(q.stats.maxLat.Load()) * time.Microsecond,
		SinceReset:   time.Since(time.UnixMicro(q.stats.resetTime.Load())),
	}
	for i := range s.BySource {
		s.BySource[i] = q.stats.bySource[i].Load()
	}
	return s
}

// ResetStats zeroes the counters. Call from the consumer goroutine.
func (q *Queue) ResetStats() {
	q.stats.enqueued.Store(0)
	q.stats.dequeued.Store(0)
	q.stats.dropped.Store(0)
	for i := range q.stats.bySource {
		q.stats.bySource[i].Store(0)
	}
	q.stats.maxDepth.Store(0)
	q.stats.totalLat.Store(0)
	q.stats.maxLat.Store(0)
	q.stats.resetTime.Store(time.Now().UnixMicro())
}

func (q *Queue) noteDepth(depth uint32) {
	d := uint64(depth)
	for {
		cur := q.stats.maxDepth.Load()
		if d <= cur || q.stats.maxDepth.CompareAndSwap(cur, d) {
			return
		}
	}
}

func (q *Queue) noteLatency(lat time.Duration) {
	if lat < 0 {
		return
	}
	us := uint64(lat / time.Microsecond)
	q.stats.totalLat.Add(us)
	for {
		cur := q.stats.maxLat.Load()
		if us <= cur || q.stats.maxLat.CompareAndSwap(cur, us) {
			return
		}
	}
}
