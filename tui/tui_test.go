package tui

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"ecg-monitor/config"
	"ecg-monitor/event"
	"ecg-monitor/monitor"

	"github.com/IonicHealthUsa/ionlog"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	ionlog.SetAttributes(ionlog.WithWriters(ionlog.CustomOutput(io.Discard)))
	ionlog.Start()
	code := m.Run()
	ionlog.Stop()
	os.Exit(code)
}

type fakeController struct {
	restarts int
	err      error
	snap     monitor.Snapshot
}

func (f *fakeController) Restart() error {
	f.restarts++
	return f.err
}

func (f *fakeController) Snapshot() monitor.Snapshot { return f.snap }

func newModel(ctl Controller) model {
	return InitialModel(Options{
		Controller:   ctl,
		Threshold:    945,
		SamplingRate: 250,
	})
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	require.True(t, ok)
	return nm, cmd
}

func TestFeedDropsWhenFull(t *testing.T) {
	f := NewFeed(2)
	f.Handle(event.Sample(1, 0))
	f.Handle(event.Sample(2, 1))
	f.Handle(event.Sample(3, 2))

	assert.EqualValues(t, 1, f.Dropped())
	assert.Equal(t, 1, (<-f.Events()).Value)
	assert.Equal(t, 2, (<-f.Events()).Value)
}

func TestEventsUpdateModel(t *testing.T) {
	m := newModel(&fakeController{})

	batch := eventsMsg{event.RateUpdated(72), event.PeakDetected(990, 10)}
	for i := 0; i < 20; i++ {
		batch = append(batch, event.Sample(500+i, int64(i)))
	}
	batch = append(batch, event.ParseError("x1"), event.Status(event.ElectrodesConnected))

	m, cmd := update(t, m, batch)
	assert.NotNil(t, cmd)
	assert.Equal(t, 72, m.bpm)
	assert.True(t, m.beat)
	assert.Equal(t, 1, m.parseErrors)
	assert.Equal(t, event.ElectrodesConnected, m.status)
	// 250Hz decimated by 10
	assert.Equal(t, []int{509, 519}, m.wave.points)

	// a stale flash timer does not clear a newer beat
	m, _ = update(t, m, eventsMsg{event.PeakDetected(990, 40)})
	m, _ = update(t, m, beatOffMsg{seq: 1})
	assert.True(t, m.beat)
	m, _ = update(t, m, beatOffMsg{seq: 2})
	assert.False(t, m.beat)

	m, _ = update(t, m, eventsMsg{event.Reset()})
	assert.Equal(t, 0, m.bpm)
	assert.Empty(t, m.wave.points)
}

func TestIndicatorReplacesWaveform(t *testing.T) {
	m := newModel(&fakeController{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	m, _ = update(t, m, eventsMsg{event.IndicatorChanged(event.Indicator{
		Active:       true,
		Title:        "ELECTRODES DISCONNECTED",
		Instructions: "Check the leads.",
	})})
	view := m.View()
	assert.Contains(t, view, "ELECTRODES DISCONNECTED")
	assert.Contains(t, view, "Check the leads.")

	m, _ = update(t, m, eventsMsg{event.IndicatorChanged(event.Indicator{})})
	assert.NotContains(t, m.View(), "ELECTRODES DISCONNECTED")
}

func TestReconnectKey(t *testing.T) {
	ctl := &fakeController{err: errors.New("port busy")}
	m := newModel(ctl)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, m.restarting)

	// a second press while reconnecting is ignored
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})

	msg := cmd()
	assert.Equal(t, 1, ctl.restarts)

	m, _ = update(t, m, msg)
	assert.False(t, m.restarting)
	assert.Equal(t, "port busy", m.lastError)
	assert.Contains(t, m.View(), "port busy")
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := update(t, newModel(nil), key)
		require.NotNil(t, cmd, key.String())
		assert.Equal(t, tea.Quit(), cmd(), key.String())
	}
}

func TestLogPaneKeepsRecentLines(t *testing.T) {
	m := newModel(nil)
	for i := 0; i < maxLogLines+5; i++ {
		m, _ = update(t, m, logMsg{message: "line\n"})
	}
	assert.Len(t, m.logLines, maxLogLines)
}

func TestHeaderShowsSession(t *testing.T) {
	ctl := &fakeController{snap: monitor.Snapshot{Port: "/dev/ttyUSB0", Reading: true, Samples: 250}}
	m := newModel(ctl)
	m, _ = update(t, m, eventsMsg{event.RateUpdated(61)})

	header := m.headerView()
	assert.Contains(t, header, "/dev/ttyUSB0")
	assert.Contains(t, header, "reading")
	assert.Contains(t, header, "61 BPM")
}

func TestRenderWave(t *testing.T) {
	out := renderWave([]int{300, 1200, 750}, 5, 4, 945)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	for _, l := range lines {
		assert.Equal(t, 5, len([]rune(l)))
	}

	// newest values sit on the right edge
	assert.Equal(t, '•', []rune(lines[0])[3], "max value on the top row")
	assert.Equal(t, '•', []rune(lines[3])[2], "min value on the bottom row")
	assert.Equal(t, '•', []rune(lines[2])[4])
	assert.Contains(t, lines[1], "╌", "threshold line")

	assert.Empty(t, renderWave(nil, 0, 4, 945))
}

func TestStripDecimatesWithMax(t *testing.T) {
	s := newStrip(2, 3)
	for _, v := range []int{1, 9, 2, 3, 4, 5, 7, 7, 7} {
		s.add(v)
	}
	assert.Equal(t, []int{5, 7}, s.points)

	s.resize(1)
	assert.Equal(t, []int{7}, s.points)
}

func TestApplyPortSelection(t *testing.T) {
	cfg := config.Default()
	applyPortSelection(cfg, SimulatedPort)
	assert.True(t, cfg.Simulator.Enabled)

	applyPortSelection(cfg, "/dev/ttyACM0")
	assert.False(t, cfg.Simulator.Enabled)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)

	validate := validatePositive("threshold")
	assert.NoError(t, validate("945"))
	assert.Error(t, validate(""))
	assert.Error(t, validate("abc"))
	assert.Error(t, validate("-3"))
}
