package event

import "time"

// MIDI status bytes (high nibble selects the message family)
const (
	NoteOff       uint8 = 0x80
	NoteOn        uint8 = 0x90
	Aftertouch    uint8 = 0xA0
	CC            uint8 = 0xB0
	ProgramChange uint8 = 0xC0
	ChannelPress  uint8 = 0xD0
	PitchBend     uint8 = 0xE0
	System        uint8 = 0xF0
	SysExStart    uint8 = 0xF0
	ClockStart    uint8 = 0xF8 // 0xF8..0xFF are system realtime
)

// Source identifies where a record originated. Used for feedback-loop
// suppression and per-source statistics, never for transport routing.
type Source uint8

const (
	SourceHardwareUSB Source = iota
	SourceHardwareMIDI
	SourceUI
	SourceSimulation

	SourceCount = 4
)

func (s Source) String() string {
	switch s {
	case SourceHardwareUSB:
		return "hardware-usb"
	case SourceHardwareMIDI:
		return "hardware-midi"
	case SourceUI:
		return "ui"
	case SourceSimulation:
		return "simulation"
	}
	return "unknown"
}

// Priority orders records for scheduling decisions downstream.
type Priority uint8

const (
	PriorityRealtime Priority = iota // clock, start, stop
	PriorityHigh                     // note on/off, performance controls
	PriorityNormal                   // CC, program changes
	PriorityLow                      // SysEx, non-critical updates
	PriorityDeferred                 // UI-originated, lowest
)

func (p Priority) String() string {
	switch p {
	case PriorityRealtime:
		return "realtime"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityDeferred:
		return "deferred"
	}
	return "unknown"
}

// Record is one device event. The three fixed bytes are preserved bit for
// bit through the queue. For extended (SysEx) events only a length hint plus
// the first payload bytes travel in the record; the full payload is carried
// out of band.
type Record struct {
	Status uint8
	Data1  uint8
	Data2  uint8

	Source   Source
	Priority Priority

	// ExtendedLength is 0 for fixed 3-byte events, >0 for extended events.
	ExtendedLength uint16

	// Timestamp is set at creation when zero. Latency accounting only;
	// ordering is by Sequence.
	Timestamp time.Time

	// Sequence is assigned by the queue at enqueue time, monotone per
	// queue. Wraps after 2^32 events, which is not treated as an error.
	Sequence uint32
}

// New builds a fixed 3-byte record with the default priority for its status.
func New(status, data1, data2 uint8, source Source) Record {
	return Record{
		Status:    status,
		Data1:     data1,
		Data2:     data2,
		Source:    source,
		Priority:  DefaultPriority(status),
		Timestamp: time.Now(),
	}
}

// IsNoteOn reports whether the record is a note-on with nonzero velocity.
// Note-on velocity 0 is note-off by MIDI convention.
func (r Record) IsNoteOn() bool {
	return r.Status&0xF0 == NoteOn && r.Data2 > 0
}

func (r Record) IsNoteOff() bool {
	return r.Status&0xF0 == NoteOff || (r.Status&0xF0 == NoteOn && r.Data2 == 0)
}

func (r Record) IsCC() bool {
	return r.Status&0xF0 == CC
}

func (r Record) IsExtended() bool {
	return r.ExtendedLength > 0 || r.Status == SysExStart
}

func (r Record) IsSystemRealtime() bool {
	return r.Status >= ClockStart
}

// Channel returns the MIDI channel for channel-voice messages.
func (r Record) Channel() uint8 {
	return r.Status & 0x0F
}

// TypeName names the message family for logs and the monitor.
func TypeName(status uint8) string {
	switch status & 0xF0 {
	case NoteOff:
		return "note off"
	case NoteOn:
		return "note on"
	case Aftertouch:
		return "aftertouch"
	case CC:
		return "control change"
	case ProgramChange:
		return "program change"
	case ChannelPress:
		return "channel pressure"
	case PitchBend:
		return "pitch bend"
	case System:
		return "system"
	}
	return "unknown"
}

// DefaultPriority maps a status byte to its family default.
func DefaultPriority(status uint8) Priority {
	switch status & 0xF0 {
	case NoteOff, NoteOn:
		return PriorityHigh
	case CC:
		return PriorityNormal
	case System:
		if status >= ClockStart {
			return PriorityRealtime
		}
		return PriorityLow // SysEx and other system common
	default:
		return PriorityNormal
	}
}

// PriorityTable holds per-status-byte priority overrides. The zero value is
// not usable; call NewPriorityTable. Not safe for concurrent mutation; the
// dispatcher guards it.
type PriorityTable struct {
	byStatus [128]Priority
}

func NewPriorityTable() *PriorityTable {
	t := &PriorityTable{}
	for i := range t.byStatus {
		t.byStatus[i] = DefaultPriority(uint8(i) | 0x80)
	}
	return t
}

// Set overrides the priority for one concrete status byte.
func (t *PriorityTable) Set(status uint8, p Priority) {
	if status >= 0x80 {
		t.byStatus[status&0x7F] = p
	}
}

func (t *PriorityTable) For(status uint8) Priority {
	if status >= 0x80 {
		return t.byStatus[status&0x7F]
	}
	return PriorityNormal
}
