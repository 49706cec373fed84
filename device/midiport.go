package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// portScanTimeout guards against a hung MIDI service during port listing.
const portScanTimeout = 3 * time.Second

// Port is the Transport over a real MIDI port pair. Incoming messages are
// delivered by the driver on its own goroutine and buffered into a frame
// channel; ReceiveFrame pulls from that channel under the channel lock so
// that sends and receives serialize like transfers on one physical
// endpoint.
type Port struct {
	name string
	in   drivers.In
	out  drivers.Out

	mu     sync.Mutex // the channel lock: one transfer at a time
	send   func(msg gomidi.Message) error
	stop   func()
	frames chan Frame
	closed atomic.Bool
}

// OpenPort opens a transport over matched in/out ports.
func OpenPort(name string, in drivers.In, out drivers.Out) (*Port, error) {
	p := &Port{
		name:   name,
		in:     in,
		out:    out,
		frames: make(chan Frame, 64),
	}

	if out != nil {
		send, err := gomidi.SendTo(out)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		p.send = send
	}

	if in != nil {
		stop, err := gomidi.ListenTo(in, p.onMessage, gomidi.UseSysEx())
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		p.stop = stop
	}

	return p, nil
}

// Name returns the port name the transport was opened with.
func (p *Port) Name() string { return p.name }

func (p *Port) onMessage(msg gomidi.Message, timestampms int32) {
	raw := []byte(msg)
	if len(raw) == 0 {
		return
	}

	var f Frame
	if raw[0] == 0xF0 {
		ext := make([]byte, len(raw))
		copy(ext, raw)
		f = Frame{Status: 0xF0, Extended: ext}
		if len(raw) > 1 {
			f.Data1 = raw[1]
		}
		if len(raw) > 2 {
			f.Data2 = raw[2]
		}
	} else {
		f.Status = raw[0]
		if len(raw) > 1 {
			f.Data1 = raw[1]
		}
		if len(raw) > 2 {
			f.Data2 = raw[2]
		}
	}

	// Never block the driver goroutine; the reader not keeping up drops
	// the frame here, same policy as the queue.
	select {
	case p.frames <- f:
	default:
	}
}

// SendMessage transmits one fixed 3-byte message under the channel lock.
func (p *Port) SendMessage(status, data1, data2 uint8) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.send == nil {
		return ErrNotConnected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.send(gomidi.Message{status, data1, data2}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	return nil
}

// SendExtended transmits a complete extended message. The framing bytes
// are stripped for the driver, which frames SysEx itself.
func (p *Port) SendExtended(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.send == nil {
		return ErrNotConnected
	}
	inner := data
	if len(inner) > 0 && inner[0] == 0xF0 {
		inner = inner[1:]
	}
	if len(inner) > 0 && inner[len(inner)-1] == 0xF7 {
		inner = inner[:len(inner)-1]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.send(gomidi.SysEx(inner)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransfer, err)
	}
	return nil
}

// ReceiveFrame waits for the next buffered frame under the channel lock,
// releasing it as soon as the wait resolves either way.
func (p *Port) ReceiveFrame(timeout time.Duration) (Frame, error) {
	if p.closed.Load() {
		return Frame{}, ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case f, ok := <-p.frames:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-time.After(timeout):
		return Frame{}, ErrTimeout
	}
}

// Close stops listening and marks the transport closed.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.stop != nil {
		p.stop()
	}
	return nil
}

// FindAPCMini scans MIDI ports for an APC Mini and opens a transport on
// the first match. Port listing runs with a timeout because a hung MIDI
// service would otherwise stall startup.
func FindAPCMini() (*Port, error) {
	type ports struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan ports, 1)
	go func() {
		ch <- ports{ins: gomidi.GetInPorts(), outs: gomidi.GetOutPorts()}
	}()

	var ins []drivers.In
	var outs []drivers.Out
	select {
	case r := <-ch:
		ins, outs = r.ins, r.outs
	case <-time.After(portScanTimeout):
		return nil, fmt.Errorf("%w: MIDI port scan timed out", ErrNotConnected)
	}

	for i, in := range ins {
		name := in.String()
		if !isAPCMini(name) {
			continue
		}
		var out drivers.Out
		for j, op := range outs {
			if strings.EqualFold(op.String(), name) {
				out = outs[j]
				break
			}
		}
		return OpenPort(name, ins[i], out)
	}
	return nil, ErrNotConnected
}

func isAPCMini(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "apc") && strings.Contains(name, "mini")
}
