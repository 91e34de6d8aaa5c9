package tui

import (
	"sync/atomic"

	"ecg-monitor/event"
)

// Feed moves monitor events from the read goroutine onto the UI goroutine.
// A full buffer drops the event instead of stalling acquisition.
type Feed struct {
	ch      chan event.Event
	dropped atomic.Int64
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 1024
	}
	return &Feed{ch: make(chan event.Event, size)}
}

// Handle is an event.Handler.
func (f *Feed) Handle(e event.Event) {
	select {
	case f.ch <- e:
	default:
		f.dropped.Add(1)
	}
}

func (f *Feed) Events() <-chan event.Event { return f.ch }

func (f *Feed) Dropped() int64 { return f.dropped.Load() }
