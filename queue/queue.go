// Package queue implements the bounded multi-producer/single-consumer ring
// buffer that carries device events between the hardware reader, UI
// producers and the dispatch goroutine.
//
// The hot path never blocks and never allocates: the slot array is sized at
// construction (power of two, indexed by bitmask) and publication is done
// with per-slot sequence stamps so the consumer never observes a
// half-written record. When the buffer is full new events are dropped and
// counted rather than buffered unboundedly.
package queue

import (
	"sync/atomic"
	"time"

	"padctl/event"
)

// DefaultCapacity balances memory use against burst tolerance.
const DefaultCapacity = 4096

// slot couples a record with its publication stamp. The stamp cycles
// through the sequence space once per lap: a producer that claimed ticket t
// stores t+1 after filling the record, the consumer restamps t+capacity
// when the slot is reclaimed.
type slot struct {
	seq atomic.Uint64
	rec event.Record
}

// Queue is a fixed-capacity MPSC ring buffer of event records. Any number
// of goroutines may call Enqueue; exactly one goroutine may call Dequeue
// and Peek. The write and read cursors live on separate cache lines to
// avoid false sharing between producers and the consumer.
type Queue struct {
	_     [64]byte
	write atomic.Uint64
	_     [56]byte
	read  atomic.Uint64
	_     [56]byte

	mask  uint64
	slots []slot

	stats stats
}

// New allocates a queue. Capacity must be a power of two so indices can
// wrap via bitmask; anything else panics, since the queue is constructed
// once at startup and a bad size is a programming error.
func New(capacity int) *Queue {
	if capacity <= 1 || capacity&(capacity-1) != 0 {
		panic("queue: capacity must be >1 and a power of two")
	}
	q := &Queue{
		mask:  uint64(capacity - 1),
		slots: make([]slot, capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	q.stats.resetTime.Store(time.Now().UnixMicro())
	return q
}

// Capacity returns the slot count. One slot is kept as a full-detection
// margin, so at most Capacity()-1 records are resident at once.
func (q *Queue) Capacity() int {
	return len(q.slots)
}

// Enqueue publishes one record. It never blocks and never allocates. The
// return value is false when the queue is full; the record is dropped and
// the dropped counter incremented (capacity exhaustion is a policy outcome
// here, not an error).
//
// The record's Sequence is assigned from the claimed write ticket, so
// sequence numbers are handed out only for records that actually made it
// into the buffer and are monotone in claim order.
func (q *Queue) Enqueue(rec event.Record) bool {
	var ticket uint64
	for {
		w := q.write.Load()
		r := q.read.Load()
		if w-r >= q.mask {
			q.stats.dropped.Add(1)
			return false
		}
		if q.write.CompareAndSwap(w, w+1) {
			ticket = w
			break
		}
		// Lost the claim race to another producer; retry.
	}

	s := &q.slots[ticket&q.mask]
	rec.Sequence = uint32(ticket)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	s.rec = rec
	// Publish after the record is fully written. The atomic store orders
	// the slot contents before the stamp, so the consumer's stamp check
	// acquires a complete record.
	s.seq.Store(ticket + 1)

	q.stats.enqueued.Add(1)
	if rec.Source < event.SourceCount {
		q.stats.bySource[rec.Source].Add(1)
	}
	q.noteDepth(q.Depth())
	return true
}

// EnqueueBytes is a convenience wrapper building the record inline.
func (q *Queue) EnqueueBytes(status, data1, data2 uint8, source event.Source) bool {
	return q.Enqueue(event.New(status, data1, data2, source))
}

// Dequeue pops the next record into rec. Single consumer only. Returns
// false when the queue is empty. Consumer-side latency (now minus the
// record's creation timestamp) is folded into the statistics.
func (q *Queue) Dequeue(rec *event.Record) bool {
	r := q.read.Load()
	s := &q.slots[r&q.mask]
	if s.seq.Load() != r+1 {
		return false // empty, or a producer claimed but has not published yet
	}
	*rec = s.rec
	// Restamp for the next lap, then advance the cursor. The restamp must
	// come first: once read moves, producers may consider the slot theirs.
	s.seq.Store(r + uint64(len(q.slots)))
	q.read.Store(r + 1)

	q.stats.dequeued.Add(1)
	q.noteLatency(time.Since(rec.Timestamp))
	return true
}

// Peek copies the next record without consuming it. Single consumer only.
func (q *Queue) Peek(rec *event.Record) bool {
	r := q.read.Load()
	s := &q.slots[r&q.mask]
	if s.seq.Load() != r+1 {
		return false
	}
	*rec = s.rec
	return true
}

// Depth is the approximate number of resident records. Diagnostic only; it
// may be stale by a few events under concurrent load.
func (q *Queue) Depth() uint32 {
	w := q.write.Load()
	r := q.read.Load()
	return uint32(w - r)
}

func (q *Queue) IsEmpty() bool {
	return q.write.Load() == q.read.Load()
}

func (q *Queue) IsFull() bool {
	return q.write.Load()-q.read.Load() >= q.mask
}
