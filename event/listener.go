package event

// Listener is the callback set consumed by presentation layers, loggers and
// alarm systems.
type Listener interface {
	OnSample(value int, timestamp int64)
	OnStatus(signal StatusSignal)
	OnPeak(value int, timestamp int64)
	OnRateUpdate(bpm int)
	OnFatalError(description string)
}

// Funcs implements Listener with optional callbacks. Nil fields are skipped.
type Funcs struct {
	Sample     func(value int, timestamp int64)
	Status     func(signal StatusSignal)
	Peak       func(value int, timestamp int64)
	Rate       func(bpm int)
	Fatal      func(description string)
	ParseError func(raw string)
	Reset      func()
	Indicator  func(ind Indicator)
}

func (f Funcs) OnSample(value int, timestamp int64) {
	if f.Sample != nil {
		f.Sample(value, timestamp)
	}
}

func (f Funcs) OnStatus(signal StatusSignal) {
	if f.Status != nil {
		f.Status(signal)
	}
}

func (f Funcs) OnPeak(value int, timestamp int64) {
	if f.Peak != nil {
		f.Peak(value, timestamp)
	}
}

func (f Funcs) OnRateUpdate(bpm int) {
	if f.Rate != nil {
		f.Rate(bpm)
	}
}

func (f Funcs) OnFatalError(description string) {
	if f.Fatal != nil {
		f.Fatal(description)
	}
}

func (f Funcs) OnParseError(raw string) {
	if f.ParseError != nil {
		f.ParseError(raw)
	}
}

func (f Funcs) OnReset() {
	if f.Reset != nil {
		f.Reset()
	}
}

func (f Funcs) OnIndicator(ind Indicator) {
	if f.Indicator != nil {
		f.Indicator(ind)
	}
}

// Listeners may additionally implement these to receive the remaining kinds.
type (
	ParseErrorListener interface{ OnParseError(raw string) }
	ResetListener      interface{ OnReset() }
	IndicatorListener  interface{ OnIndicator(ind Indicator) }
)

// Dispatch routes e to the matching callback of l.
func Dispatch(l Listener, e Event) {
	switch e.Kind {
	case KindSample:
		l.OnSample(e.Value, e.Timestamp)
	case KindStatus:
		l.OnStatus(e.Status)
	case KindPeak:
		l.OnPeak(e.Value, e.Timestamp)
	case KindRate:
		l.OnRateUpdate(e.BPM)
	case KindFatalError:
		l.OnFatalError(e.Text)
	case KindParseError:
		if pl, ok := l.(ParseErrorListener); ok {
			pl.OnParseError(e.Text)
		}
	case KindReset:
		if rl, ok := l.(ResetListener); ok {
			rl.OnReset()
		}
	case KindIndicator:
		if il, ok := l.(IndicatorListener); ok && e.Indicator != nil {
			il.OnIndicator(*e.Indicator)
		}
	}
}

// Listen adapts a Listener to a Handler.
func Listen(l Listener) Handler {
	return func(e Event) { Dispatch(l, e) }
}
