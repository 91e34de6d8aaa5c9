// Package quality turns status and error events into a persistent indicator
// that only clears after a run of consecutive valid samples.
package quality

import (
	"sync"

	"ecg-monitor/event"
)

const DefaultMinValidSamples = 10

type Condition string

const (
	ConditionOK                     Condition = ""
	ConditionElectrodesDisconnected Condition = "electrodes_disconnected"
	ConditionConnectionFailed       Condition = "connection_failed"
	ConditionConnectionLost         Condition = "connection_lost"
)

const Instructions = "ECG monitoring has stopped.\n\n" +
	"Instructions:\n\n" +
	"• Make sure the electrodes are firmly attached to the skin.\n\n" +
	"• Check that the leads are securely connected\n" +
	"  to the electrodes and to the device.\n\n" +
	"• Ask the patient to stay still if possible."

var titles = map[Condition]string{
	ConditionElectrodesDisconnected: "ELECTRODES DISCONNECTED",
	ConditionConnectionFailed:       "CONNECTION ERROR",
	ConditionConnectionLost:         "CONNECTION LOST",
}

// Tracker is safe for concurrent use. Each method reports whether the
// indicator changed.
type Tracker struct {
	minValid int

	mu          sync.Mutex
	consecutive int
	condition   Condition
}

func NewTracker(minValidSamples int) *Tracker {
	if minValidSamples <= 0 {
		minValidSamples = DefaultMinValidSamples
	}
	return &Tracker{minValid: minValidSamples}
}

// Sample records one valid sample and clears the indicator once enough
// consecutive samples have been seen.
func (t *Tracker) Sample() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive++
	if t.condition != ConditionOK && t.consecutive >= t.minValid {
		t.condition = ConditionOK
		return true
	}
	return false
}

// Status resets the valid-sample run. A disconnected-electrodes signal raises
// the indicator.
func (t *Tracker) Status(signal event.StatusSignal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive = 0
	if signal == event.ElectrodesDisconnected {
		return t.raise(ConditionElectrodesDisconnected)
	}
	return false
}

// ParseError resets the valid-sample run without raising the indicator.
func (t *Tracker) ParseError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
}

func (t *Tracker) Fault(c Condition) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutive = 0
	return t.raise(c)
}

func (t *Tracker) Indicator() event.Indicator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return indicatorFor(t.condition)
}

func (t *Tracker) Condition() Condition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.condition
}

func (t *Tracker) raise(c Condition) bool {
	if t.condition == c {
		return false
	}
	t.condition = c
	return true
}

func indicatorFor(c Condition) event.Indicator {
	if c == ConditionOK {
		return event.Indicator{}
	}
	return event.Indicator{
		Active:       true,
		Condition:    string(c),
		Title:        titles[c],
		Instructions: Instructions,
	}
}
