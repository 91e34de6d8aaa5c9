// Package peak derives cardiac peaks and heart rate from a sample stream
// using rising-edge detection on a fixed threshold.
//
// The threshold is a single calibrated constant with no adaptive baseline.
// It works for a clean amplified QRS signal and is sensitive to baseline drift.
package peak

import (
	"fmt"
	"math"
	"sync/atomic"

	"ecg-monitor/event"

	"github.com/IonicHealthUsa/ionlog"
)

const (
	DefaultThreshold    = 945
	DefaultSamplingRate = 250
	DefaultWindow       = 5
)

type Config struct {
	Threshold    int
	SamplingRate int // Hz
	Window       int // number of readings averaged into the current rate
}

func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		SamplingRate: DefaultSamplingRate,
		Window:       DefaultWindow,
	}
}

func (c Config) Validate() error {
	if c.SamplingRate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %d", c.SamplingRate)
	}
	if c.Window <= 0 {
		return fmt.Errorf("averaging window must be positive, got %d", c.Window)
	}
	return nil
}

// Engine holds the detector state for one monitoring session. ProcessSample
// and Reset must be called from a single goroutine; CurrentBpm may be read
// from anywhere.
type Engine struct {
	cfg Config

	belowThreshold bool
	lastPeak       int64
	hasLastPeak    bool
	history        *history
	currentBpm     atomic.Int64

	bus event.Bus
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		belowThreshold: true,
		history:        newHistory(cfg.Window),
	}
	return e, nil
}

// Subscribe registers h for PeakDetected, RateUpdated and Reset events.
func (e *Engine) Subscribe(h event.Handler) event.ID {
	return e.bus.Subscribe(h)
}

func (e *Engine) Unsubscribe(id event.ID) bool {
	return e.bus.Unsubscribe(id)
}

// ProcessSample must see samples in non-decreasing timestamp order.
func (e *Engine) ProcessSample(value int, timestamp int64) {
	rising := value >= e.cfg.Threshold && e.belowThreshold
	e.belowThreshold = value < e.cfg.Threshold

	if !rising {
		return
	}

	rateUpdated := false
	if e.hasLastPeak {
		if interval := timestamp - e.lastPeak; interval > 0 {
			e.history.push(instantaneousBpm(e.cfg.SamplingRate, interval))
			e.currentBpm.Store(int64(e.history.roundedMean()))
			rateUpdated = true
		}
	}
	e.lastPeak = timestamp
	e.hasLastPeak = true

	e.bus.Publish(event.PeakDetected(value, timestamp))
	if rateUpdated {
		e.bus.Publish(event.RateUpdated(e.CurrentBpm()))
	}
}

// Reset restores the initial state. Subscriptions are kept.
func (e *Engine) Reset() {
	e.belowThreshold = true
	e.lastPeak = 0
	e.hasLastPeak = false
	e.history.clear()
	e.currentBpm.Store(0)

	ionlog.Infof("Peak detector reset (threshold=%d, rate=%dHz)", e.cfg.Threshold, e.cfg.SamplingRate)
	e.bus.Publish(event.Reset())
}

// CurrentBpm returns the smoothed rate, 0 until two peaks have been seen.
func (e *Engine) CurrentBpm() int {
	return int(e.currentBpm.Load())
}

func (e *Engine) BelowThreshold() bool { return e.belowThreshold }

func (e *Engine) LastPeak() (int64, bool) { return e.lastPeak, e.hasLastPeak }

// History returns the averaged readings oldest first.
func (e *Engine) History() []int { return e.history.values() }

func (e *Engine) Config() Config { return e.cfg }

func instantaneousBpm(samplingRate int, intervalSamples int64) int {
	return int(math.Round(float64(samplingRate) * 60 / float64(intervalSamples)))
}
