// Package logwriter routes log output into a channel so the terminal UI can
// show it in a pane instead of writing over the screen.
package logwriter

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultCapacity = 1024
	DefaultWait     = 100 * time.Millisecond
)

// Writer is an io.Writer. Each Write becomes one or more trimmed lines on the
// channel; a line that cannot be queued within the wait time is dropped so
// logging never blocks the acquisition path.
type Writer struct {
	msgs    chan string
	wait    time.Duration
	dropped atomic.Int64
}

func New(capacity int, wait time.Duration) *Writer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Writer{msgs: make(chan string, capacity), wait: wait}
}

func (w *Writer) Write(data []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(data), "\r\n"), "\n") {
		if line == "" {
			continue
		}
		if !w.push(line) {
			w.dropped.Add(1)
		}
	}
	return len(data), nil
}

func (w *Writer) push(line string) bool {
	select {
	case w.msgs <- line:
		return true
	default:
	}
	if w.wait <= 0 {
		return false
	}

	timer := time.NewTimer(w.wait)
	defer timer.Stop()
	select {
	case w.msgs <- line:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Writer) Messages() <-chan string { return w.msgs }

// Dropped counts lines lost to a full channel.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

var (
	instance *Writer
	once     sync.Once
)

// Logger returns the process-wide writer handed to ionlog.
func Logger() *Writer {
	once.Do(func() {
		instance = New(DefaultCapacity, DefaultWait)
	})
	return instance
}

func Messages() <-chan string {
	return Logger().Messages()
}
