package device

import (
	"fmt"
	"time"

	"padctl/debug"
	"padctl/dispatch"
	"padctl/event"
)

// APC Mini surface layout. The 8x8 pad grid occupies notes 0-63 with row 0
// at the bottom. Track buttons sit on 64-71, scene launch buttons on 82-89,
// shift on 98. Track faders report CC 48-55, the master fader CC 56.
const (
	PadCount     = 64
	PadNoteStart = 0
	PadNoteEnd   = 63
	GridSize     = 8

	TrackButtonStart = 64
	TrackButtonEnd   = 71
	SceneButtonStart = 82
	SceneButtonEnd   = 89
	ShiftButton      = 98

	FaderCCStart  = 48
	FaderCCEnd    = 55
	MasterFaderCC = 56

	MIDIChannel = 0
)

// Color is an APC Mini pad LED color code, sent as note-on velocity.
type Color uint8

const (
	ColorOff         Color = 0
	ColorGreen       Color = 1
	ColorGreenBlink  Color = 2
	ColorRed         Color = 3
	ColorRedBlink    Color = 4
	ColorYellow      Color = 5
	ColorYellowBlink Color = 6
)

// IsPadNote reports whether a note number is on the 8x8 grid.
func IsPadNote(note uint8) bool {
	return note <= PadNoteEnd
}

// IsTrackFaderCC reports whether a controller number is a track fader.
func IsTrackFaderCC(cc uint8) bool {
	return cc >= FaderCCStart && cc <= FaderCCEnd
}

// IsAnyFaderCC covers the track faders and the master fader.
func IsAnyFaderCC(cc uint8) bool {
	return IsTrackFaderCC(cc) || cc == MasterFaderCC
}

// PadIndex converts grid coordinates (row 0 = bottom) to a pad number.
func PadIndex(row, col int) uint8 {
	return uint8(row*GridSize + col)
}

// PadRowCol converts a pad note back to grid coordinates.
func PadRowCol(note uint8) (row, col int) {
	return int(note) / GridSize, int(note) % GridSize
}

// deviceInquiry is the standard identity-request SysEx the device answers
// with its model and firmware info.
var deviceInquiry = []byte{0xF0, 0x7E, 0x00, 0x06, 0x01, 0xF7}

// Device couples a transport with its reader and pause coordinator and
// exposes the APC Mini control surface: LED updates, batch LED updates in
// a paused window, and the introduction handshake.
type Device struct {
	transport    Transport
	reader       *Reader
	coord        *Coordinator
	pauseTimeout time.Duration
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithPauseTimeout overrides the batch-write pause acknowledgement bound.
func WithPauseTimeout(timeout time.Duration) DeviceOption {
	return func(dev *Device) {
		if timeout > 0 {
			dev.pauseTimeout = timeout
		}
	}
}

// WithSource tags records produced by the device's reader.
func WithSource(source event.Source) DeviceOption {
	return func(dev *Device) { dev.reader.source = source }
}

// NewDevice wires a device around a transport, feeding received frames
// into d.
func NewDevice(t Transport, d *dispatch.Dispatcher, opts ...DeviceOption) *Device {
	dev := &Device{
		transport:    t,
		coord:        NewCoordinator(),
		pauseTimeout: DefaultPauseTimeout,
	}
	dev.reader = NewReader(t, d, dev.coord, event.SourceHardwareUSB)
	for _, opt := range opts {
		opt(dev)
	}
	return dev
}

// Reader exposes the polling goroutine for stats and timeout tuning.
func (dev *Device) Reader() *Reader { return dev.reader }

// Transport exposes the underlying channel.
func (dev *Device) Transport() Transport { return dev.transport }

// Coordinator exposes the pause protocol for callers that manage their own
// batch windows.
func (dev *Device) Coordinator() *Coordinator { return dev.coord }

// Start begins hardware polling.
func (dev *Device) Start() error {
	return dev.reader.Start()
}

// Stop halts polling and closes the transport.
func (dev *Device) Stop() error {
	err := dev.reader.Stop()
	if cerr := dev.transport.Close(); err == nil {
		err = cerr
	}
	return err
}

// PauseIO parks the reader for a batch window. True means the channel is
// uncontended until ResumeIO.
func (dev *Device) PauseIO() bool {
	return dev.coord.Pause(dev.pauseTimeout)
}

// ResumeIO ends the batch window.
func (dev *Device) ResumeIO() {
	dev.coord.Resume()
}

// SendNoteOn transmits a note-on on the device channel.
func (dev *Device) SendNoteOn(note, velocity uint8) error {
	return dev.transport.SendMessage(event.NoteOn|MIDIChannel, note, velocity)
}

// SendNoteOff transmits a note-off on the device channel.
func (dev *Device) SendNoteOff(note uint8) error {
	return dev.transport.SendMessage(event.NoteOff|MIDIChannel, note, 0)
}

// SendCC transmits a control change on the device channel.
func (dev *Device) SendCC(controller, value uint8) error {
	return dev.transport.SendMessage(event.CC|MIDIChannel, controller, value)
}

// SetPadColor lights one grid pad. Color codes ride in the velocity byte.
func (dev *Device) SetPadColor(pad uint8, color Color) error {
	if pad >= PadCount {
		return fmt.Errorf("device: pad %d out of range", pad)
	}
	return dev.SendNoteOn(PadNoteStart+pad, uint8(color))
}

// SetAllPads lights the whole grid one color inside a single batch window.
func (dev *Device) SetAllPads(color Color) error {
	pads := make([]uint8, PadCount)
	colors := make([]Color, PadCount)
	for i := range pads {
		pads[i] = uint8(i)
		colors[i] = color
	}
	return dev.SetPadColorsBatch(pads, colors)
}

// SetPadColorsBatch updates many pads in one contiguous window: the reader
// is parked, every update is sent back to back, then the reader resumes.
// If the reader fails to park in time the batch proceeds anyway (soft
// failure, logged and counted); it still cannot corrupt the channel since
// every send takes the transport lock.
func (dev *Device) SetPadColorsBatch(pads []uint8, colors []Color) error {
	if len(pads) == 0 || len(pads) != len(colors) {
		return fmt.Errorf("device: batch wants matching pad/color slices, got %d/%d",
			len(pads), len(colors))
	}

	if !dev.coord.Pause(dev.pauseTimeout) {
		dev.reader.notePauseTimeout()
		debug.Log("device", "batch of %d proceeding without pause ack", len(pads))
	}
	defer dev.coord.Resume()

	for i, pad := range pads {
		if pad >= PadCount {
			return fmt.Errorf("device: pad %d out of range", pad)
		}
		if err := dev.SendNoteOn(PadNoteStart+pad, uint8(colors[i])); err != nil {
			return fmt.Errorf("batch pad %d: %w", pad, err)
		}
	}
	return nil
}

// SendIntroduction performs the identity handshake the original app runs
// after connecting.
func (dev *Device) SendIntroduction() error {
	return dev.transport.SendExtended(deviceInquiry)
}
