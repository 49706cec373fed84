package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"padctl/event"
	"padctl/queue"
)

func newTestDispatcher(opts ...Option) *Dispatcher {
	return New(queue.New(64), opts...)
}

// collector is a callback that remembers everything it saw.
type collector struct {
	mu   sync.Mutex
	recs []event.Record
}

func (c *collector) fn(rec event.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

func (c *collector) last() event.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recs[len(c.recs)-1]
}

func TestSubmitDrainDelivers(t *testing.T) {
	d := newTestDispatcher()
	var c collector
	if id := d.Register(Everything(), c.fn); id == 0 {
		t.Fatal("Register returned 0")
	}

	if !d.Submit(event.NoteOn, 5, 100, event.SourceHardwareUSB) {
		t.Fatal("Submit rejected")
	}
	if !d.Submit(event.CC, 48, 64, event.SourceHardwareUSB) {
		t.Fatal("Submit rejected")
	}

	if n := d.Drain(DefaultMaxBatch); n != 2 {
		t.Fatalf("Drain = %d, want 2", n)
	}
	if c.count() != 2 {
		t.Fatalf("delivered %d records, want 2", c.count())
	}

	rec := c.last()
	if rec.Status != event.CC || rec.Data1 != 48 || rec.Data2 != 64 {
		t.Errorf("wrong record delivered: %+v", rec)
	}
	if rec.Priority != event.PriorityNormal {
		t.Errorf("CC priority = %v, want normal", rec.Priority)
	}

	m := d.Metrics()
	if m.Processed != 2 || m.CallbackRuns != 2 {
		t.Errorf("metrics processed=%d callbackRuns=%d, want 2/2", m.Processed, m.CallbackRuns)
	}
}

func TestDrainRespectsBatchLimit(t *testing.T) {
	d := newTestDispatcher()
	for i := 0; i < 10; i++ {
		d.Submit(event.NoteOn, uint8(i), 100, event.SourceSimulation)
	}

	if n := d.Drain(4); n != 4 {
		t.Fatalf("first Drain = %d, want 4", n)
	}
	if n := d.Drain(100); n != 6 {
		t.Fatalf("second Drain = %d, want 6", n)
	}
	if n := d.Drain(100); n != 0 {
		t.Fatalf("empty Drain = %d, want 0", n)
	}
}

func TestGlobalFilterDropsRecords(t *testing.T) {
	f := Everything()
	f.AcceptCC = false
	d := newTestDispatcher(WithGlobalFilter(f))
	var c collector
	d.Register(Everything(), c.fn)

	d.Submit(event.CC, 48, 64, event.SourceHardwareUSB)
	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)

	if c.count() != 1 {
		t.Fatalf("delivered %d records, want 1", c.count())
	}
	if c.last().Status != event.NoteOn {
		t.Errorf("wrong survivor: %+v", c.last())
	}
	if m := d.Metrics(); m.Filtered != 1 {
		t.Errorf("filtered = %d, want 1", m.Filtered)
	}
}

func TestCallbackFilterIndependentOfGlobal(t *testing.T) {
	d := newTestDispatcher()
	notes := Everything()
	notes.AcceptCC = false
	notes.AcceptExtended = false

	var noteSink, allSink collector
	d.Register(notes, noteSink.fn)
	d.Register(Everything(), allSink.fn)

	d.Submit(event.NoteOn, 3, 100, event.SourceHardwareUSB)
	d.Submit(event.CC, 48, 10, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)

	if noteSink.count() != 1 {
		t.Errorf("note sink got %d, want 1", noteSink.count())
	}
	if allSink.count() != 2 {
		t.Errorf("all sink got %d, want 2", allSink.count())
	}
}

func TestVelocityRangeFilter(t *testing.T) {
	d := newTestDispatcher()
	f := Everything()
	f.MinVelocity = 64
	f.MaxVelocity = 100
	var c collector
	d.Register(f, c.fn)

	d.Submit(event.NoteOn, 0, 63, event.SourceHardwareUSB)
	d.Submit(event.NoteOn, 0, 64, event.SourceHardwareUSB)
	d.Submit(event.NoteOn, 0, 101, event.SourceHardwareUSB)
	// Range never applies to note-off.
	d.Submit(event.NoteOff, 0, 0, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)

	if c.count() != 2 {
		t.Fatalf("delivered %d records, want 2", c.count())
	}
}

func TestFeedbackSuppressionWindow(t *testing.T) {
	d := newTestDispatcher(WithFeedbackWindow(40 * time.Millisecond))
	var c collector
	d.Register(Everything(), c.fn)

	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)
	if c.count() != 1 {
		t.Fatalf("first UI record suppressed")
	}

	// Inside the window the echo is dropped.
	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)
	if c.count() != 1 {
		t.Fatalf("echo inside window delivered")
	}

	// Hardware records are never suppressed.
	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if c.count() != 2 {
		t.Fatalf("hardware record suppressed")
	}

	// After the window expires UI records flow again.
	time.Sleep(50 * time.Millisecond)
	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)
	if c.count() != 3 {
		t.Fatalf("UI record after window suppressed")
	}
}

func TestFeedbackSuppressionDisabled(t *testing.T) {
	d := newTestDispatcher()
	d.SetFeedbackSuppression(false)
	var c collector
	d.Register(Everything(), c.fn)

	for i := 0; i < 5; i++ {
		d.Submit(event.NoteOn, uint8(i), 100, event.SourceUI)
	}
	d.Drain(DefaultMaxBatch)

	if c.count() != 5 {
		t.Fatalf("delivered %d records with suppression off, want 5", c.count())
	}
}

func TestSuppressedRecordDoesNotExtendWindow(t *testing.T) {
	d := newTestDispatcher(WithFeedbackWindow(60 * time.Millisecond))
	var c collector
	d.Register(Everything(), c.fn)

	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)

	// A suppressed echo must not refresh the timestamp, so the window is
	// measured from the original record.
	time.Sleep(30 * time.Millisecond)
	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)
	if c.count() != 1 {
		t.Fatalf("mid-window echo delivered")
	}

	time.Sleep(40 * time.Millisecond)
	d.Submit(event.NoteOn, 0, 100, event.SourceUI)
	d.Drain(DefaultMaxBatch)
	if c.count() != 2 {
		t.Fatalf("record after original window suppressed, window was extended")
	}
}

func TestRegistryFull(t *testing.T) {
	d := newTestDispatcher(WithMaxCallbacks(2))
	nop := func(event.Record) {}

	if d.Register(Everything(), nop) == 0 {
		t.Fatal("first Register failed")
	}
	if d.Register(Everything(), nop) == 0 {
		t.Fatal("second Register failed")
	}
	if id := d.Register(Everything(), nop); id != 0 {
		t.Fatalf("third Register = %d, want 0", id)
	}
}

func TestRegisterNilCallback(t *testing.T) {
	d := newTestDispatcher()
	if id := d.Register(Everything(), nil); id != 0 {
		t.Fatalf("Register(nil) = %d, want 0", id)
	}
}

func TestUnregisterAndReRegister(t *testing.T) {
	d := newTestDispatcher(WithMaxCallbacks(1))
	var c collector

	id := d.Register(Everything(), c.fn)
	d.Unregister(id)

	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if c.count() != 0 {
		t.Fatal("unregistered callback still delivered")
	}

	// Unregistering frees the slot.
	if d.Register(Everything(), c.fn) == 0 {
		t.Fatal("re-Register after Unregister failed")
	}
}

func TestSetEnabledToggles(t *testing.T) {
	d := newTestDispatcher()
	var c collector
	id := d.Register(Everything(), c.fn)

	d.SetEnabled(id, false)
	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if c.count() != 0 {
		t.Fatal("disabled callback delivered")
	}

	d.SetEnabled(id, true)
	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if c.count() != 1 {
		t.Fatal("re-enabled callback not delivered")
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	d := newTestDispatcher()
	var c collector

	d.Register(Everything(), func(event.Record) { panic("observer bug") })
	d.Register(Everything(), c.fn)

	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	if n := d.Drain(DefaultMaxBatch); n != 1 {
		t.Fatalf("Drain = %d, want 1", n)
	}

	if c.count() != 1 {
		t.Fatal("panic in one callback broke delivery to the next")
	}
	m := d.Metrics()
	if m.CallbackPanics != 1 {
		t.Errorf("callbackPanics = %d, want 1", m.CallbackPanics)
	}
	if m.Processed != 1 {
		t.Errorf("processed = %d, want 1", m.Processed)
	}
}

func TestSubmitExtendedStub(t *testing.T) {
	d := newTestDispatcher()
	var c collector
	d.Register(Everything(), c.fn)

	payload := []byte{0xF0, 0x7E, 0x00, 0x06, 0x01, 0xF7}
	if !d.SubmitExtended(payload, event.SourceHardwareUSB) {
		t.Fatal("SubmitExtended rejected")
	}
	if d.SubmitExtended(nil, event.SourceHardwareUSB) {
		t.Fatal("SubmitExtended accepted empty payload")
	}
	d.Drain(DefaultMaxBatch)

	if c.count() != 1 {
		t.Fatalf("delivered %d records, want 1", c.count())
	}
	rec := c.last()
	if !rec.IsExtended() {
		t.Fatal("stub not marked extended")
	}
	if rec.ExtendedLength != uint16(len(payload)) {
		t.Errorf("ExtendedLength = %d, want %d", rec.ExtendedLength, len(payload))
	}
	if rec.Data1 != 0x7E || rec.Data2 != 0x00 {
		t.Errorf("stub bytes = %02x %02x, want 7e 00", rec.Data1, rec.Data2)
	}
}

func TestPriorityOverride(t *testing.T) {
	d := newTestDispatcher()
	if p := d.PriorityFor(event.CC); p != event.PriorityNormal {
		t.Fatalf("default CC priority = %v", p)
	}

	d.SetPriority(event.CC, event.PriorityHigh)
	if p := d.PriorityFor(event.CC); p != event.PriorityHigh {
		t.Fatalf("override not applied: %v", p)
	}

	var c collector
	d.Register(Everything(), c.fn)
	d.Submit(event.CC, 48, 64, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if c.last().Priority != event.PriorityHigh {
		t.Errorf("submitted record priority = %v, want high", c.last().Priority)
	}
}

func TestRegistryChangeDuringDelivery(t *testing.T) {
	d := newTestDispatcher()
	var late atomic.Uint32
	var id CallbackID

	// Unregistering from inside a callback must not deadlock or corrupt
	// the walk; the change applies from the next record.
	d.Register(Everything(), func(event.Record) {
		d.Unregister(id)
	})
	id = d.Register(Everything(), func(event.Record) { late.Add(1) })

	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if late.Load() != 1 {
		t.Fatalf("snapshot delivery broken: late ran %d times", late.Load())
	}

	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)
	if late.Load() != 1 {
		t.Fatalf("unregistered callback ran again")
	}
}

func TestResetMetrics(t *testing.T) {
	d := newTestDispatcher()
	d.Register(Everything(), func(event.Record) {})
	d.Submit(event.NoteOn, 0, 100, event.SourceHardwareUSB)
	d.Drain(DefaultMaxBatch)

	d.ResetMetrics()
	m := d.Metrics()
	if m.Processed != 0 || m.CallbackRuns != 0 || m.MaxProcessing != 0 {
		t.Errorf("metrics not reset: %+v", m)
	}
}
