// Package tui is the live monitor: the pad grid, fader levels, and the
// queue/dispatcher counters, refreshed as events arrive. It is a pure
// presentation sink; it registers one dispatcher callback and marshals
// records into the bubbletea program, never touching the hardware channel
// itself.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"padctl/device"
	"padctl/dispatch"
	"padctl/event"
)

const recentEvents = 8

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	padOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	padOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	faderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	eventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// RecordMsg carries one dispatched record into the model.
type RecordMsg event.Record

type tickMsg time.Time

// Model renders the monitor. Create with New, then register Feed as a
// dispatcher callback once the program is running.
type Model struct {
	d *dispatch.Dispatcher

	pads     [device.PadCount]uint8 // last velocity per pad
	faders   [9]uint8               // track faders + master
	recent   []string
	quitting bool
}

func New(d *dispatch.Dispatcher) Model {
	return Model{d: d}
}

// Feed returns a dispatcher callback that forwards records into p. The
// callback runs on the dispatch goroutine; p.Send is safe to call there.
func Feed(p *tea.Program) dispatch.Callback {
	return func(rec event.Record) {
		p.Send(RecordMsg(rec))
	}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		// Counters are re-read in View; the tick just forces a redraw.
		return m, tick()

	case RecordMsg:
		m.apply(event.Record(msg))
		return m, nil
	}
	return m, nil
}

func (m *Model) apply(rec event.Record) {
	switch {
	case rec.IsNoteOn() && device.IsPadNote(rec.Data1):
		m.pads[rec.Data1] = rec.Data2
	case rec.IsNoteOff() && device.IsPadNote(rec.Data1):
		m.pads[rec.Data1] = 0
	case rec.IsCC() && device.IsTrackFaderCC(rec.Data1):
		m.faders[rec.Data1-device.FaderCCStart] = rec.Data2
	case rec.IsCC() && rec.Data1 == device.MasterFaderCC:
		m.faders[8] = rec.Data2
	}

	line := fmt.Sprintf("%-14s %3d %3d  %s  seq=%d",
		event.TypeName(rec.Status), rec.Data1, rec.Data2, rec.Source, rec.Sequence)
	m.recent = append(m.recent, line)
	if len(m.recent) > recentEvents {
		m.recent = m.recent[len(m.recent)-recentEvents:]
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("padctl - APC Mini monitor"))
	b.WriteString("\n\n")

	b.WriteString(m.viewGrid())
	b.WriteString("\n")
	b.WriteString(m.viewFaders())
	b.WriteString("\n\n")
	b.WriteString(m.viewStats())
	b.WriteString("\n\n")

	for _, line := range m.recent {
		b.WriteString(eventStyle.Render("  " + line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("  q to quit"))
	return b.String()
}

func (m Model) viewGrid() string {
	var b strings.Builder
	for row := device.GridSize - 1; row >= 0; row-- {
		b.WriteString("  ")
		for col := 0; col < device.GridSize; col++ {
			if m.pads[device.PadIndex(row, col)] > 0 {
				b.WriteString(padOnStyle.Render("◉ "))
			} else {
				b.WriteString(padOffStyle.Render("· "))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewFaders() string {
	var b strings.Builder
	b.WriteString("  ")
	for i, v := range m.faders {
		bar := int(v) * 8 / 128
		b.WriteString(faderStyle.Render(fmt.Sprintf("%d:%s ", i+1, strings.Repeat("▮", bar+1))))
	}
	return b.String()
}

func (m Model) viewStats() string {
	qs := m.d.Queue().Stats()
	dm := m.d.Metrics()

	lines := []string{
		statLine("queue", fmt.Sprintf("depth %d  enq %d  deq %d  max %d",
			m.d.Queue().Depth(), qs.Enqueued, qs.Dequeued, qs.MaxDepth)),
		statLine("latency", fmt.Sprintf("avg %s  max %s", qs.AvgLatency(), qs.MaxLatency)),
		statLine("dispatch", fmt.Sprintf("processed %d  filtered %d  callbacks %d",
			dm.Processed, dm.Filtered, dm.CallbackRuns)),
	}
	if qs.Dropped > 0 || dm.CallbackPanics > 0 {
		lines = append(lines, "  "+warnStyle.Render(
			fmt.Sprintf("dropped %d  panics %d", qs.Dropped, dm.CallbackPanics)))
	}
	return strings.Join(lines, "\n")
}

func statLine(label, value string) string {
	return "  " + labelStyle.Render(fmt.Sprintf("%-9s", label)) + valueStyle.Render(value)
}
