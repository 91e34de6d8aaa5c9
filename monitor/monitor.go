// Package monitor composes the stream reader, the peak engine and the
// signal-quality tracker into one monitoring session and fans every event
// out to external subscribers.
package monitor

import (
	"errors"
	"fmt"
	"sync/atomic"

	"ecg-monitor/event"
	"ecg-monitor/peak"
	"ecg-monitor/quality"
	"ecg-monitor/streamreader"

	"github.com/IonicHealthUsa/ionlog"
)

var ErrNoPort = errors.New("no serial port configured")

type Config struct {
	Port            string
	BaudRate        int
	Peak            peak.Config
	MinValidSamples int
	Reader          streamreader.Options
}

type Snapshot struct {
	Port      string          `json:"port"`
	Reading   bool            `json:"reading"`
	BPM       int             `json:"bpm"`
	Samples   int64           `json:"samples"`
	Indicator event.Indicator `json:"indicator"`
}

// Monitor delivers all events on the reader's goroutine. Subscribers that
// touch UI state must hand the event over to their own goroutine.
type Monitor struct {
	cfg     Config
	reader  *streamreader.Reader
	engine  *peak.Engine
	tracker *quality.Tracker

	next     atomic.Int64
	out      event.Bus
	starting atomic.Bool
}

func New(cfg Config) (*Monitor, error) {
	engine, err := peak.New(cfg.Peak)
	if err != nil {
		return nil, fmt.Errorf("peak engine: %w", err)
	}

	m := &Monitor{
		cfg:     cfg,
		reader:  streamreader.New(cfg.Reader),
		engine:  engine,
		tracker: quality.NewTracker(cfg.MinValidSamples),
	}

	m.reader.AddSubscriber(m.onRaw)
	m.engine.Subscribe(m.out.Publish)
	return m, nil
}

// AddSubscriber registers a listener for every event kind.
func (m *Monitor) AddSubscriber(l event.Listener) event.ID {
	return m.out.Subscribe(event.Listen(l))
}

func (m *Monitor) Subscribe(h event.Handler) event.ID {
	return m.out.Subscribe(h)
}

func (m *Monitor) RemoveSubscriber(id event.ID) bool {
	return m.out.Unsubscribe(id)
}

// Start begins a new session on the configured port. When a session is
// already reading it returns immediately and keeps the detector state.
func (m *Monitor) Start() error {
	if m.cfg.Port == "" {
		m.fault(quality.ConditionConnectionFailed)
		return ErrNoPort
	}

	if m.reader.Reading() {
		return nil
	}

	// no read loop is running, so the detector can be reset from here
	m.engine.Reset()
	m.next.Store(0)

	m.starting.Store(true)
	err := m.reader.Start(m.cfg.Port, m.cfg.BaudRate)
	m.starting.Store(false)
	if err != nil {
		return err
	}
	ionlog.Infof("Monitoring %s at %d baud", m.cfg.Port, m.cfg.BaudRate)
	return nil
}

// Stop ends the read loop but keeps the port. A timeout is logged as a
// warning and returned.
func (m *Monitor) Stop() error {
	err := m.reader.Stop()
	if errors.Is(err, streamreader.ErrStopTimeout) {
		ionlog.Warnf("Monitor stop: %v; the read goroutine may leak", err)
	}
	return err
}

func (m *Monitor) Disconnect() error {
	err := m.reader.Disconnect()
	if errors.Is(err, streamreader.ErrStopTimeout) {
		ionlog.Warnf("Monitor disconnect: %v; port released anyway", err)
	}
	return err
}

// Restart disconnects and starts a fresh session with clean detector state.
func (m *Monitor) Restart() error {
	if err := m.Disconnect(); err != nil && !errors.Is(err, streamreader.ErrStopTimeout) {
		return err
	}
	return m.Start()
}

func (m *Monitor) CurrentBpm() int {
	return m.engine.CurrentBpm()
}

func (m *Monitor) Snapshot() Snapshot {
	return Snapshot{
		Port:      m.cfg.Port,
		Reading:   m.reader.Reading(),
		BPM:       m.engine.CurrentBpm(),
		Samples:   m.next.Load(),
		Indicator: m.tracker.Indicator(),
	}
}

func (m *Monitor) Config() Config { return m.cfg }

func (m *Monitor) onRaw(e event.Event) {
	switch e.Kind {
	case event.KindSample:
		ts := m.next.Add(1) - 1
		cleared := m.tracker.Sample()

		m.out.Publish(event.Sample(e.Value, ts))
		if cleared {
			m.publishIndicator()
		}
		m.engine.ProcessSample(e.Value, ts)

	case event.KindStatus:
		changed := m.tracker.Status(e.Status)
		m.out.Publish(e)
		if changed {
			m.publishIndicator()
		}

	case event.KindParseError:
		m.tracker.ParseError()
		m.out.Publish(e)

	case event.KindFatalError:
		m.out.Publish(e)
		// open failures are published synchronously from inside Start
		if m.starting.Load() {
			m.fault(quality.ConditionConnectionFailed)
		} else {
			m.fault(quality.ConditionConnectionLost)
		}
	}
}

func (m *Monitor) fault(c quality.Condition) {
	if m.tracker.Fault(c) {
		m.publishIndicator()
	}
}

func (m *Monitor) publishIndicator() {
	ind := m.tracker.Indicator()
	if ind.Active {
		ionlog.Warnf("Signal indicator raised: %s", ind.Title)
	} else {
		ionlog.Info("Signal indicator cleared")
	}
	m.out.Publish(event.IndicatorChanged(ind))
}
