package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Kind int

const (
	KindSample Kind = iota
	KindStatus
	KindParseError
	KindFatalError
	KindPeak
	KindRate
	KindReset
	KindIndicator
)

var kindNames = map[Kind]string{
	KindSample:     "sample",
	KindStatus:     "status",
	KindParseError: "parse_error",
	KindFatalError: "fatal_error",
	KindPeak:       "peak",
	KindRate:       "rate",
	KindReset:      "reset",
	KindIndicator:  "indicator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

type StatusSignal int

const (
	StatusUnknown StatusSignal = iota
	ElectrodesDisconnected
	ElectrodesConnected
)

func (s StatusSignal) String() string {
	switch s {
	case ElectrodesDisconnected:
		return "ELECTRODES_DISCONNECTED"
	case ElectrodesConnected:
		return "ELECTRODES_CONNECTED"
	default:
		return "UNKNOWN"
	}
}

func (s StatusSignal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText maps any unrecognised token to StatusUnknown.
func (s *StatusSignal) UnmarshalText(text []byte) error {
	switch string(text) {
	case ElectrodesDisconnected.String():
		*s = ElectrodesDisconnected
	case ElectrodesConnected.String():
		*s = ElectrodesConnected
	default:
		*s = StatusUnknown
	}
	return nil
}

const statusPrefix = "STATUS:"

// ParseStatus classifies a trimmed device line as a status token. The
// "STATUS:" prefix is optional for the electrode tokens; any other prefixed
// payload is an unknown status. ok is false for lines that are not status lines.
func ParseStatus(line string) (signal StatusSignal, ok bool) {
	token, prefixed := strings.CutPrefix(line, statusPrefix)
	switch token {
	case ElectrodesDisconnected.String():
		return ElectrodesDisconnected, true
	case ElectrodesConnected.String():
		return ElectrodesConnected, true
	}
	if prefixed {
		return StatusUnknown, true
	}
	return StatusUnknown, false
}

// Indicator is the user-facing signal-quality state.
type Indicator struct {
	Active       bool   `json:"active"`
	Condition    string `json:"condition,omitempty"`
	Title        string `json:"title,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Event is a tagged union over every raw and derived event. Only the fields
// relevant to Kind are set, and only those are encoded, zero values included.
type Event struct {
	Kind      Kind         `json:"kind"`
	Value     int          `json:"value"`
	Timestamp int64        `json:"timestamp"`
	Status    StatusSignal `json:"status"`
	Text      string       `json:"text"`
	BPM       int          `json:"bpm"`
	Indicator *Indicator   `json:"indicator"`
}

type sampleJSON struct {
	Kind      Kind  `json:"kind"`
	Value     int   `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

type statusJSON struct {
	Kind   Kind         `json:"kind"`
	Status StatusSignal `json:"status"`
}

type textJSON struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

type rateJSON struct {
	Kind Kind `json:"kind"`
	BPM  int  `json:"bpm"`
}

type indicatorJSON struct {
	Kind      Kind      `json:"kind"`
	Indicator Indicator `json:"indicator"`
}

type kindJSON struct {
	Kind Kind `json:"kind"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindSample, KindPeak:
		return json.Marshal(sampleJSON{e.Kind, e.Value, e.Timestamp})
	case KindStatus:
		return json.Marshal(statusJSON{e.Kind, e.Status})
	case KindParseError, KindFatalError:
		return json.Marshal(textJSON{e.Kind, e.Text})
	case KindRate:
		return json.Marshal(rateJSON{e.Kind, e.BPM})
	case KindIndicator:
		var ind Indicator
		if e.Indicator != nil {
			ind = *e.Indicator
		}
		return json.Marshal(indicatorJSON{e.Kind, ind})
	default:
		return json.Marshal(kindJSON{e.Kind})
	}
}

func Sample(value int, timestamp int64) Event {
	return Event{Kind: KindSample, Value: value, Timestamp: timestamp}
}

func Status(signal StatusSignal) Event {
	return Event{Kind: KindStatus, Status: signal}
}

func ParseError(raw string) Event {
	return Event{Kind: KindParseError, Text: raw}
}

func FatalError(description string) Event {
	return Event{Kind: KindFatalError, Text: description}
}

func PeakDetected(value int, timestamp int64) Event {
	return Event{Kind: KindPeak, Value: value, Timestamp: timestamp}
}

func RateUpdated(bpm int) Event {
	return Event{Kind: KindRate, BPM: bpm}
}

func Reset() Event {
	return Event{Kind: KindReset}
}

func IndicatorChanged(ind Indicator) Event {
	return Event{Kind: KindIndicator, Indicator: &ind}
}

func (e Event) String() string {
	switch e.Kind {
	case KindSample, KindPeak:
		return fmt.Sprintf("%s value=%d t=%d", e.Kind, e.Value, e.Timestamp)
	case KindStatus:
		return fmt.Sprintf("%s %s", e.Kind, e.Status)
	case KindParseError, KindFatalError:
		return fmt.Sprintf("%s %q", e.Kind, e.Text)
	case KindRate:
		return fmt.Sprintf("%s bpm=%d", e.Kind, e.BPM)
	case KindIndicator:
		if e.Indicator == nil {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s active=%t %s", e.Kind, e.Indicator.Active, e.Indicator.Condition)
	default:
		return e.Kind.String()
	}
}
