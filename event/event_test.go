package event

import "testing"

func TestNoteOnVelocityZeroIsNoteOff(t *testing.T) {
	rec := New(NoteOn, 5, 0, SourceHardwareUSB)
	if rec.IsNoteOn() {
		t.Error("velocity-0 note-on reported as note-on")
	}
	if !rec.IsNoteOff() {
		t.Error("velocity-0 note-on not reported as note-off")
	}

	rec = New(NoteOn, 5, 1, SourceHardwareUSB)
	if !rec.IsNoteOn() || rec.IsNoteOff() {
		t.Error("velocity-1 note-on misclassified")
	}
}

func TestDefaultPriorities(t *testing.T) {
	cases := []struct {
		status uint8
		want   Priority
	}{
		{NoteOn, PriorityHigh},
		{NoteOff | 0x05, PriorityHigh}, // channel bits do not matter
		{CC, PriorityNormal},
		{SysExStart, PriorityLow},
		{ClockStart, PriorityRealtime},
		{0xFF, PriorityRealtime},
		{ProgramChange, PriorityNormal},
	}
	for _, tc := range cases {
		if got := DefaultPriority(tc.status); got != tc.want {
			t.Errorf("DefaultPriority(%#02x) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestPriorityTableOverride(t *testing.T) {
	tab := NewPriorityTable()
	if tab.For(CC) != PriorityNormal {
		t.Fatalf("table default for CC = %v", tab.For(CC))
	}

	tab.Set(CC, PriorityRealtime)
	if tab.For(CC) != PriorityRealtime {
		t.Error("override not applied")
	}
	if tab.For(NoteOn) != PriorityHigh {
		t.Error("override leaked to another status")
	}

	// Data bytes are not statuses; Set must ignore them.
	tab.Set(0x40, PriorityRealtime)
	if tab.For(0xC0) == PriorityRealtime {
		t.Error("data-byte set leaked into the table")
	}
}

func TestChannelExtraction(t *testing.T) {
	rec := New(NoteOn|0x03, 0, 100, SourceUI)
	if rec.Channel() != 3 {
		t.Errorf("Channel = %d, want 3", rec.Channel())
	}
}
