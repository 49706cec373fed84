package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"

	"padctl/config"
	"padctl/debug"
	"padctl/device"
	"padctl/dispatch"
	"padctl/event"
	"padctl/queue"
	"padctl/tui"
)

var simulate bool

var rootCmd = &cobra.Command{
	Use:   "padctl",
	Short: "Control and monitor an Akai APC Mini",
	Long: `padctl connects to an APC Mini, mirrors its pads and faders in a
live terminal monitor, and exposes batch LED control that never fights the
hardware reader for the channel.`,
	RunE: runMonitor,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI ports",
	RunE:  runPorts,
}

var ledsCmd = &cobra.Command{
	Use:   "leds",
	Short: "Run an LED pattern demo on the connected device",
	RunE:  runLEDs,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&simulate, "sim", false,
		"use a simulated device instead of hardware")
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(ledsCmd)
	config.Init()
}

// buildCore wires config, queue, dispatcher, loop and device together.
func buildCore() (*config.Config, *dispatch.Dispatcher, *dispatch.Loop, *device.Device, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if cfg.Debug.Enabled {
		if err := debug.Enable(); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("enable debug log: %w", err)
		}
	}

	q := queue.New(cfg.Queue.Capacity)
	d := dispatch.New(q,
		dispatch.WithMaxCallbacks(cfg.Dispatch.MaxCallbacks),
		dispatch.WithFeedbackWindow(cfg.FeedbackWindow()),
	)
	d.SetFeedbackSuppression(cfg.Dispatch.FeedbackSuppression)
	loop := dispatch.NewLoop(d, cfg.PollInterval(), cfg.Dispatch.MaxBatch)

	var transport device.Transport
	var source event.Source = event.SourceHardwareUSB
	if simulate {
		transport = device.NewLoopback(0)
		source = event.SourceSimulation
	} else {
		port, err := device.FindAPCMini()
		if err != nil {
			if errors.Is(err, device.ErrNotConnected) {
				return nil, nil, nil, nil,
					fmt.Errorf("no APC Mini found (try --sim): %w", err)
			}
			return nil, nil, nil, nil, err
		}
		fmt.Printf("Connected: %s\n", port.Name())
		transport = port
	}

	dev := device.NewDevice(transport, d,
		device.WithPauseTimeout(cfg.PauseTimeout()),
		device.WithSource(source),
	)
	dev.Reader().SetReceiveTimeout(cfg.ReceiveTimeout())
	return cfg, d, loop, dev, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	_, d, loop, dev, err := buildCore()
	if err != nil {
		return err
	}

	if err := loop.Start(); err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		loop.Stop()
		return err
	}
	defer func() {
		dev.Stop()
		loop.Stop()
		debug.Disable()
	}()

	if err := dev.SendIntroduction(); err != nil {
		debug.Log("main", "introduction failed: %v", err)
	}

	if simulate {
		if lb, ok := devTransport(dev); ok {
			go simulateActivity(lb)
		}
	}

	p := tea.NewProgram(tui.New(d), tea.WithAltScreen())
	id := d.Register(dispatch.FixedOnly(), tui.Feed(p))
	if id == 0 {
		return errors.New("callback registry full")
	}
	defer d.Unregister(id)

	_, err = p.Run()
	return err
}

// devTransport digs the loopback back out for the simulator goroutine.
func devTransport(dev *device.Device) (*device.Loopback, bool) {
	lb, ok := dev.Transport().(*device.Loopback)
	return lb, ok
}

// simulateActivity feeds the loopback a plausible stream of pad presses
// and fader moves so the monitor has something to show without hardware.
func simulateActivity(lb *device.Loopback) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		switch rng.Intn(3) {
		case 0:
			pad := uint8(rng.Intn(device.PadCount))
			lb.InjectFrame(device.Frame{Status: event.NoteOn, Data1: pad, Data2: 100})
			time.Sleep(80 * time.Millisecond)
			lb.InjectFrame(device.Frame{Status: event.NoteOff, Data1: pad})
		case 1:
			cc := uint8(device.FaderCCStart + rng.Intn(9))
			lb.InjectFrame(device.Frame{Status: event.CC, Data1: cc, Data2: uint8(rng.Intn(128))})
		case 2:
			time.Sleep(200 * time.Millisecond)
		}
		time.Sleep(time.Duration(100+rng.Intn(400)) * time.Millisecond)
	}
}

func runPorts(cmd *cobra.Command, args []string) error {
	fmt.Println("MIDI input ports:")
	for i, p := range gomidi.GetInPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	fmt.Println("MIDI output ports:")
	for i, p := range gomidi.GetOutPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	return nil
}

func runLEDs(cmd *cobra.Command, args []string) error {
	_, _, loop, dev, err := buildCore()
	if err != nil {
		return err
	}
	if err := loop.Start(); err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		loop.Stop()
		return err
	}
	defer func() {
		dev.SetAllPads(device.ColorOff)
		dev.Stop()
		loop.Stop()
	}()

	fmt.Println("all on, by color")
	for _, c := range []device.Color{device.ColorGreen, device.ColorRed, device.ColorYellow} {
		if err := dev.SetAllPads(c); err != nil {
			return err
		}
		time.Sleep(600 * time.Millisecond)
	}

	fmt.Println("chaser")
	for i := 0; i < device.PadCount; i++ {
		if err := dev.SetPadColor(uint8(i), device.ColorGreen); err != nil {
			return err
		}
		time.Sleep(15 * time.Millisecond)
		dev.SetPadColor(uint8(i), device.ColorOff)
	}

	fmt.Println("checkerboard")
	pads := make([]uint8, device.PadCount)
	colors := make([]device.Color, device.PadCount)
	for i := range pads {
		pads[i] = uint8(i)
		row, col := device.PadRowCol(uint8(i))
		if (row+col)%2 == 0 {
			colors[i] = device.ColorYellow
		} else {
			colors[i] = device.ColorRed
		}
	}
	if err := dev.SetPadColorsBatch(pads, colors); err != nil {
		return err
	}
	time.Sleep(time.Second)
	return nil
}
