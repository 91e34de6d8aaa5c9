// Package tui is the terminal front end: a setup form followed by a live
// view of the waveform, heart rate, signal indicator and logs.
package tui

import (
	"fmt"
	"strings"
	"time"

	"ecg-monitor/event"
	"ecg-monitor/monitor"

	"github.com/IonicHealthUsa/ionlog"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxLogLines = 500
	beatFlash   = 150 * time.Millisecond
	// events folded into a single update
	maxBatch = 256
	// decimated points per second on the strip
	stripRate = 25
)

var (
	titleStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#7C3AED")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Bold(true)

	focusedBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#7C3AED"))

	normalBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#666666"))

	alertStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("#DC2626")).
			Padding(1, 2)

	alertTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DC2626")).
			Bold(true)

	heartOnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	heartOffStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
	bpmStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9FAFB")).Bold(true)
	waveStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Italic(true)
)

const (
	focusWave = iota
	focusLogs
	focusCount
)

// Controller is the part of the monitor the UI drives.
type Controller interface {
	Restart() error
	Snapshot() monitor.Snapshot
}

type Options struct {
	Controller   Controller
	Events       <-chan event.Event
	Logs         <-chan string
	Threshold    int
	SamplingRate int
}

type model struct {
	ctl       Controller
	events    <-chan event.Event
	logData   <-chan string
	threshold int

	wave        *strip
	logViewport viewport.Model
	logLines    []string

	width      int
	height     int
	waveHeight int
	focused    int

	bpm         int
	beat        bool
	beatSeq     int
	status      event.StatusSignal
	indicator   event.Indicator
	lastError   string
	parseErrors int
	restarting  bool
}

type eventsMsg []event.Event

type logMsg struct {
	message string
}

type beatOffMsg struct {
	seq int
}

type restartedMsg struct {
	err error
}

func InitialModel(opts Options) model {
	decimate := 1
	if opts.SamplingRate > stripRate {
		decimate = opts.SamplingRate / stripRate
	}

	return model{
		ctl:         opts.Controller,
		events:      opts.Events,
		logData:     opts.Logs,
		threshold:   opts.Threshold,
		wave:        newStrip(80, decimate),
		logViewport: viewport.New(80, 8),
		waveHeight:  12,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvents(),
		m.waitForLogMessage(),
	)
}

func (m model) waitForEvents() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		first, ok := <-m.events
		if !ok {
			return nil
		}
		batch := eventsMsg{first}
		for len(batch) < maxBatch {
			select {
			case e := <-m.events:
				batch = append(batch, e)
			default:
				return batch
			}
		}
		return batch
	}
}

func (m model) waitForLogMessage() tea.Cmd {
	if m.logData == nil {
		return nil
	}
	return func() tea.Msg {
		data, ok := <-m.logData
		if !ok {
			return nil
		}
		return logMsg{message: data}
	}
}

func (m model) restart() tea.Cmd {
	return func() tea.Msg {
		return restartedMsg{err: m.ctl.Restart()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inner := max(m.width-2, 10)
		m.waveHeight = max((m.height-12)*2/3, 6)
		m.wave.resize(inner)
		m.logViewport.Width = inner
		m.logViewport.Height = max(m.height-m.waveHeight-12, 3)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit

		case "tab":
			m.focused = (m.focused + 1) % focusCount

		case "r":
			if m.restarting || m.ctl == nil {
				break
			}
			m.restarting = true
			ionlog.Info("Reconnect requested")
			cmds = append(cmds, m.restart())
		}

	case eventsMsg:
		for _, e := range msg {
			if cmd := m.apply(e); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		cmds = append(cmds, m.waitForEvents())

	case beatOffMsg:
		if msg.seq == m.beatSeq {
			m.beat = false
		}

	case restartedMsg:
		m.restarting = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
			ionlog.Errorf("Reconnect failed: %v", msg.err)
		} else {
			m.lastError = ""
		}

	case logMsg:
		m.logLines = append(m.logLines, strings.TrimRight(msg.message, "\n"))
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		m.logViewport.SetContent(strings.Join(m.logLines, "\n"))
		m.logViewport.GotoBottom()
		cmds = append(cmds, m.waitForLogMessage())
	}

	if m.focused == focusLogs {
		var cmd tea.Cmd
		m.logViewport, cmd = m.logViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// apply folds one event into the model. Only a peak returns a command, the
// timer that ends the beat flash.
func (m *model) apply(e event.Event) tea.Cmd {
	switch e.Kind {
	case event.KindSample:
		m.wave.add(e.Value)

	case event.KindPeak:
		m.beat = true
		m.beatSeq++
		seq := m.beatSeq
		return tea.Tick(beatFlash, func(time.Time) tea.Msg { return beatOffMsg{seq: seq} })

	case event.KindRate:
		m.bpm = e.BPM

	case event.KindReset:
		m.bpm = 0
		m.beat = false
		m.wave.clear()

	case event.KindStatus:
		m.status = e.Status

	case event.KindIndicator:
		if e.Indicator != nil {
			m.indicator = *e.Indicator
		}

	case event.KindParseError:
		m.parseErrors++

	case event.KindFatalError:
		m.lastError = e.Text
	}
	return nil
}

func (m model) View() string {
	header := m.headerView()

	waveTitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FBBF24")).
		Bold(true).
		Render("ECG Lead")

	var body string
	if m.indicator.Active {
		body = alertStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			alertTitleStyle.Render(m.indicator.Title),
			"",
			m.indicator.Instructions,
		))
	} else {
		waveBox := normalBorderStyle
		if m.focused == focusWave {
			waveBox = focusedBorderStyle
		}
		plot := renderWave(m.wave.points, m.wave.capacity, m.waveHeight, m.threshold)
		body = waveBox.Render(waveStyle.Render(plot))
	}

	logTitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true).
		Render("System Logs")

	logStyle := normalBorderStyle
	if m.focused == focusLogs {
		logStyle = focusedBorderStyle
	}
	logBox := logStyle.Render(m.logViewport.View())

	help := helpStyle.Render("Tab: Switch focus • r: Reconnect • q/Esc: Quit")

	parts := []string{"", header, waveTitle, body}
	if m.lastError != "" {
		parts = append(parts, errorStyle.Render(m.lastError))
	}
	parts = append(parts, logTitle, logBox, help)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) headerView() string {
	state := "stopped"
	port := ""
	var samples int64
	if m.ctl != nil {
		snap := m.ctl.Snapshot()
		port = snap.Port
		samples = snap.Samples
		if snap.Reading {
			state = "reading"
		}
	}
	if m.restarting {
		state = "reconnecting"
	}

	heart := heartOffStyle.Render("♥")
	if m.beat {
		heart = heartOnStyle.Render("♥")
	}

	bpm := "--"
	if m.bpm > 0 {
		bpm = fmt.Sprintf("%d", m.bpm)
	}

	info := fmt.Sprintf("%s  %s  %d samples  %d bad lines", port, state, samples, m.parseErrors)
	if m.status != event.StatusUnknown {
		info += "  " + m.status.String()
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("ECG Monitor"),
		"  ",
		heart,
		" ",
		bpmStyle.Render(bpm+" BPM"),
		"  ",
		helpStyle.Render(info),
	)
}
