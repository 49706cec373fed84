// padtest is a bare-bones hardware harness for poking at an APC Mini
// without the full monitor: port listing, detection, raw event echo, and a
// batch-write stress run that exercises the pause protocol against real
// hardware.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"padctl/device"
	"padctl/dispatch"
	"padctl/event"
	"padctl/queue"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "detect":
		detect()
	case "echo":
		echo()
	case "batch":
		batchStress()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("padtest - APC Mini hardware harness")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list    - List all MIDI ports")
	fmt.Println("  detect  - Find an APC Mini")
	fmt.Println("  echo    - Print incoming events until interrupted")
	fmt.Println("  batch   - Batch LED writes while the reader polls")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	for i, p := range midi.GetInPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, p := range midi.GetOutPorts() {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
}

func detect() {
	port, err := device.FindAPCMini()
	if err != nil {
		fmt.Printf("not found: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()
	fmt.Printf("found: %s\n", port.Name())
}

func connect() (*device.Device, *dispatch.Dispatcher, *dispatch.Loop) {
	port, err := device.FindAPCMini()
	if err != nil {
		fmt.Printf("not found: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("connected: %s\n", port.Name())

	q := queue.New(queue.DefaultCapacity)
	d := dispatch.New(q)
	loop := dispatch.NewLoop(d, dispatch.DefaultPollInterval, dispatch.DefaultMaxBatch)
	dev := device.NewDevice(port, d)

	if err := loop.Start(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := dev.Start(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return dev, d, loop
}

func echo() {
	dev, d, loop := connect()
	defer func() {
		dev.Stop()
		loop.Stop()
	}()

	d.Register(dispatch.Everything(), func(rec event.Record) {
		fmt.Printf("%-14s %3d %3d  %s  seq=%d\n",
			event.TypeName(rec.Status), rec.Data1, rec.Data2, rec.Source, rec.Sequence)
	})

	fmt.Println("press pads / move faders, ctrl-c to quit")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}

func batchStress() {
	dev, d, loop := connect()
	defer func() {
		dev.SetAllPads(device.ColorOff)
		dev.Stop()
		loop.Stop()
	}()

	pads := make([]uint8, device.PadCount)
	colors := make([]device.Color, device.PadCount)
	for i := range pads {
		pads[i] = uint8(i)
	}

	for round := 0; round < 10; round++ {
		c := device.Color(1 + round%6)
		for i := range colors {
			colors[i] = c
		}
		start := time.Now()
		if err := dev.SetPadColorsBatch(pads, colors); err != nil {
			fmt.Printf("round %d: %v\n", round, err)
			return
		}
		fmt.Printf("round %d: %d pads in %s\n", round, len(pads), time.Since(start))
		time.Sleep(300 * time.Millisecond)
	}

	st := dev.Reader().Stats()
	qs := d.Queue().Stats()
	fmt.Printf("reader: received=%d errors=%d pauseTimeouts=%d\n",
		st.Received, st.Errors, st.PauseTimeouts)
	fmt.Printf("queue:  enqueued=%d dropped=%d maxDepth=%d\n",
		qs.Enqueued, qs.Dropped, qs.MaxDepth)
}
