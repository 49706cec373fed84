package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"padctl/event"
	"padctl/queue"
)

func TestLoopStartStop(t *testing.T) {
	d := New(queue.New(64))
	l := NewLoop(d, time.Millisecond, DefaultMaxBatch)

	if l.IsRunning() {
		t.Fatal("new loop reports running")
	}
	if err := l.Stop(); err != ErrNotRunning {
		t.Fatalf("Stop before Start = %v, want ErrNotRunning", err)
	}

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.IsRunning() {
		t.Fatal("loop not running after Start")
	}
	if err := l.Start(); err != ErrAlreadyRunning {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}

	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.IsRunning() {
		t.Fatal("loop still running after Stop")
	}
}

func TestLoopRestart(t *testing.T) {
	d := New(queue.New(64))
	l := NewLoop(d, time.Millisecond, DefaultMaxBatch)

	for i := 0; i < 3; i++ {
		if err := l.Start(); err != nil {
			t.Fatalf("Start cycle %d: %v", i, err)
		}
		if err := l.Stop(); err != nil {
			t.Fatalf("Stop cycle %d: %v", i, err)
		}
	}
}

func TestLoopDeliversSubmittedRecords(t *testing.T) {
	d := New(queue.New(256))
	var seen atomic.Uint32
	d.Register(Everything(), func(event.Record) { seen.Add(1) })

	l := NewLoop(d, time.Millisecond, DefaultMaxBatch)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	const total = 100
	for i := 0; i < total; i++ {
		if !d.Submit(event.NoteOn, uint8(i%64), 100, event.SourceSimulation) {
			t.Fatalf("Submit %d rejected", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for seen.Load() < total {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of %d within deadline", seen.Load(), total)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopPollIntervalAdjustable(t *testing.T) {
	l := NewLoop(New(queue.New(64)), 0, 0)
	if l.PollInterval() != DefaultPollInterval {
		t.Fatalf("PollInterval = %v, want default", l.PollInterval())
	}

	l.SetPollInterval(5 * time.Millisecond)
	if l.PollInterval() != 5*time.Millisecond {
		t.Fatalf("PollInterval = %v after set", l.PollInterval())
	}

	// Non-positive values are ignored.
	l.SetPollInterval(0)
	if l.PollInterval() != 5*time.Millisecond {
		t.Fatalf("PollInterval changed by zero set: %v", l.PollInterval())
	}
}
