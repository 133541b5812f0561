package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangara-fw/tangara-go/internal/bus"
)

// uiTickPeriod drives the UI task's main-loop turn: draining the UI
// event queue (bus.Queue.Service) and any dirty Property subscribers,
// analogous to the teacher's one-second tuiModel tick but fast enough
// to keep scripted screens responsive.
const uiTickPeriod = 100 * time.Millisecond

type tickMsg time.Time

// Model is the bubbletea model standing in for the LVGL main-loop
// contract named at §1's boundary: every Lua call and every screen
// render happens inside this model's Update/View, which bubbletea runs
// on a single goroutine — the "UI task" required by §5.
type Model struct {
	ui *UI

	quitting bool
}

// NewModel constructs a Model bound to ui.
func NewModel(ui *UI) Model {
	return Model{ui: ui}
}

// RunTUI starts the bubbletea Program wrapping ui and blocks until it
// exits (on 'q'/ctrl+c, a fatal error, or ctx cancellation), pumping the
// UI FSM's event queue on every render tick.
func RunTUI(ctx context.Context, ui *UI) error {
	p := tea.NewProgram(NewModel(ui), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(uiTickPeriod, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.pump()
		return m, tick()
	}
	return m, nil
}

// pump services every pending UI-queue event and drains dirty Property
// subscribers, all on this single bubbletea goroutine.
func (m Model) pump() {
	for m.ui.router.UI.Service(0) {
	}
	m.ui.DrainProperties()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case " ":
		m.togglePlayPause()
	case "up":
		m.audioDispatch(bus.StepUpVolume{})
	case "down":
		m.audioDispatch(bus.StepDownVolume{})
	case "right":
		m.audioDispatch(bus.QueueUpdate{Reason: bus.QueueTrackFinished})
	case "left":
		m.backOrPrevious()
	case "o":
		m.toggleOutput()
	case "esc":
		m.ui.backstack.Pop()
	}
	return m, nil
}

func (m Model) audioDispatch(event bus.Event) {
	if m.ui.audioDispatch == nil {
		return
	}
	m.ui.audioDispatch.Dispatch(event)
}

func (m Model) togglePlayPause() {
	playing, _ := m.ui.registry.Playback.Playing.Get().(bool)
	m.audioDispatch(bus.TogglePlayPause{Playing: !playing})
}

func (m Model) backOrPrevious() {
	if m.ui.backstack.Depth() > 1 {
		m.ui.backstack.Pop()
		return
	}
	pos, _ := m.ui.registry.Queue.Position.Get().(int)
	if pos > 0 {
		m.audioDispatch(bus.QueueUpdate{Reason: bus.QueueExplicitUpdate, Position: pos - 1})
	}
}

func (m Model) toggleOutput() {
	mode := bus.OutputBluetooth
	cur, _ := m.ui.registry.Bluetooth.Connected.Get().(bool)
	if cur {
		mode = bus.OutputHeadphones
	}
	m.audioDispatch(bus.SetOutput{Mode: mode})
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	fatalStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func (m Model) View() string {
	if m.quitting {
		return "tangara shutting down...\n"
	}
	if m.ui.state == StateSplash {
		return titleStyle.Render("tangara") + "\n" + valueStyle.Render("booting...") + "\n"
	}

	msg, visible, fatal := m.ui.alerts.State()
	if visible && fatal {
		return fatalStyle.Render("! " + msg)
	}

	r := m.ui.registry
	var b strings.Builder
	b.WriteString(titleStyle.Render("tangara"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Track: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v", r.Playback.Track.Get())))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Position: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%.1fs", asFloat(r.Playback.Position.Get()))))
	b.WriteString("\n")

	state := "paused"
	if playing, _ := r.Playback.Playing.Get().(bool); playing {
		state = "playing"
	}
	b.WriteString(headerStyle.Render("State: "))
	b.WriteString(valueStyle.Render(state))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Queue: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v/%v", r.Queue.Position.Get(), r.Queue.Size.Get())))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Volume: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v%%", r.Volume.CurrentPct.Get())))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Battery: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v%% (%v)", r.Power.BatteryPct.Get(), r.Power.ChargeState.Get())))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("SD card: "))
	mounted := "not mounted"
	if ok, _ := r.SDCard.Mounted.Get().(bool); ok {
		mounted = "mounted"
	}
	b.WriteString(valueStyle.Render(mounted))
	b.WriteString("\n")

	if visible {
		b.WriteString("\n")
		b.WriteString(alertStyle.Render(msg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("space play/pause · ←/→ prev/next · ↑/↓ volume · o output · q quit"))
	return b.String()
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
