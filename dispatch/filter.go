package dispatch

import "padctl/event"

// Filter selects which records a callback (or the dispatcher as a whole)
// wants to see. The zero value rejects everything; start from Everything().
type Filter struct {
	AcceptNoteOn   bool
	AcceptNoteOff  bool
	AcceptCC       bool
	AcceptExtended bool

	AcceptHardware   bool
	AcceptUI         bool
	AcceptSimulation bool

	// Velocity range applies to note-on records only.
	MinVelocity uint8
	MaxVelocity uint8
}

// Everything returns a filter that accepts all records.
func Everything() Filter {
	return Filter{
		AcceptNoteOn:     true,
		AcceptNoteOff:    true,
		AcceptCC:         true,
		AcceptExtended:   true,
		AcceptHardware:   true,
		AcceptUI:         true,
		AcceptSimulation: true,
		MaxVelocity:      127,
	}
}

// FixedOnly accepts the fixed 3-byte families but no extended messages.
// Convenient for presentation-layer sinks that only draw pads and faders.
func FixedOnly() Filter {
	f := Everything()
	f.AcceptExtended = false
	return f
}

// Accept reports whether the record passes the filter.
func (f Filter) Accept(rec event.Record) bool {
	switch rec.Status & 0xF0 {
	case event.NoteOn:
		if !f.AcceptNoteOn {
			return false
		}
		if rec.Data2 < f.MinVelocity || rec.Data2 > f.MaxVelocity {
			return false
		}
	case event.NoteOff:
		if !f.AcceptNoteOff {
			return false
		}
	case event.CC:
		if !f.AcceptCC {
			return false
		}
	case event.System:
		if !f.AcceptExtended {
			return false
		}
	}

	switch rec.Source {
	case event.SourceHardwareUSB, event.SourceHardwareMIDI:
		if !f.AcceptHardware {
			return false
		}
	case event.SourceUI:
		if !f.AcceptUI {
			return false
		}
	case event.SourceSimulation:
		if !f.AcceptSimulation {
			return false
		}
	}

	return true
}
