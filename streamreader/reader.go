// Package streamreader owns the serial connection and turns its line-oriented
// text into typed events on a single background goroutine.
package streamreader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ecg-monitor/event"
	"ecg-monitor/portconfig"

	"github.com/IonicHealthUsa/ionlog"
)

const (
	DefaultStopTimeout   = 500 * time.Millisecond
	DefaultMaxLineLength = 4096
	defaultBufferSize    = 1024
	// bytes of an overlong line kept in its ParseError
	overflowPreview = 64
)

var ErrStopTimeout = errors.New("read loop did not stop in time")

var newline = []byte{'\n'}

// Opener opens the named device. The returned reader must not block forever
// in Read, otherwise Stop can only give up after its timeout.
type Opener func(port string, baudRate int) (io.ReadCloser, error)

type Options struct {
	Opener      Opener
	ReadTimeout time.Duration
	StopTimeout time.Duration
	BufferSize  int
	// MaxLineLength bounds an unterminated line. Longer input is reported
	// as one ParseError and skipped up to the next newline.
	MaxLineLength int
}

// Connection is one open serial session.
type Connection struct {
	PortName string
	BaudRate int

	port    io.ReadCloser
	open    atomic.Bool
	reading atomic.Bool
	done    chan struct{}
}

func (c *Connection) Reading() bool { return c.reading.Load() }
func (c *Connection) Open() bool    { return c.open.Load() }

// Done is closed when the read loop has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	return c.port.Close()
}

type Reader struct {
	opener      Opener
	stopTimeout time.Duration
	bufferSize  int
	maxLine     int

	bus event.Bus

	mu   sync.Mutex
	conn *Connection
}

func New(opts Options) *Reader {
	r := &Reader{
		opener:      opts.Opener,
		stopTimeout: opts.StopTimeout,
		bufferSize:  opts.BufferSize,
		maxLine:     opts.MaxLineLength,
	}
	if r.opener == nil {
		r.opener = portconfig.Opener(opts.ReadTimeout)
	}
	if r.stopTimeout <= 0 {
		r.stopTimeout = DefaultStopTimeout
	}
	if r.bufferSize <= 0 {
		r.bufferSize = defaultBufferSize
	}
	if r.maxLine <= 0 {
		r.maxLine = DefaultMaxLineLength
	}
	return r
}

// AddSubscriber registers h. Handlers run on the read goroutine, one after
// another in registration order.
func (r *Reader) AddSubscriber(h event.Handler) event.ID {
	return r.bus.Subscribe(h)
}

func (r *Reader) RemoveSubscriber(id event.ID) bool {
	return r.bus.Unsubscribe(id)
}

func (r *Reader) Reading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && r.conn.Reading()
}

// Connection returns the current session, or nil after Disconnect.
func (r *Reader) Connection() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Start opens the port and spawns the read loop. It returns immediately
// without opening a second session when already reading. On failure a
// FatalError event is published and no goroutine is started.
func (r *Reader) Start(portName string, baudRate int) error {
	r.mu.Lock()
	if r.conn != nil && r.conn.Reading() {
		current := r.conn.PortName
		r.mu.Unlock()
		ionlog.Infof("Already reading from %s", current)
		return nil
	}

	// a previous session ended without Disconnect; its port is still held
	stale := r.conn
	r.conn = nil
	r.mu.Unlock()

	if stale != nil {
		if err := stale.close(); err != nil {
			ionlog.Errorf("Failed to close previous port %s: %v", stale.PortName, err)
		}
	}

	// opening can take a while; Reading and Connection stay responsive
	ionlog.Infof("Opening %s at %d baud", portName, baudRate)
	port, err := r.opener(portName, baudRate)
	if err != nil {
		ionlog.Errorf("Failed to open serial port %s: %v", portName, err)
		r.bus.Publish(event.FatalError(fmt.Sprintf("could not open port %s: %v; make sure it is not in use", portName, err)))
		return fmt.Errorf("start reading %s: %w", portName, err)
	}

	c := &Connection{
		PortName: portName,
		BaudRate: baudRate,
		port:     port,
		done:     make(chan struct{}),
	}
	c.open.Store(true)
	c.reading.Store(true)

	r.mu.Lock()
	if current := r.conn; current != nil {
		// a concurrent Start won the race; keep its session
		r.mu.Unlock()
		ionlog.Infof("Already reading from %s", current.PortName)
		if err := port.Close(); err != nil {
			ionlog.Errorf("Failed to close serial port %s: %v", portName, err)
		}
		return nil
	}
	r.conn = c
	r.mu.Unlock()

	go r.readLoop(c)
	return nil
}

// Stop asks the read loop to end and waits for it at most the stop timeout.
// The port stays open.
func (r *Reader) Stop() error {
	r.mu.Lock()
	c := r.conn
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	return r.stop(c)
}

func (r *Reader) stop(c *Connection) error {
	c.reading.Store(false)

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil
	case <-timer.C:
		ionlog.Warnf("Read loop on %s still running after %v", c.PortName, r.stopTimeout)
		return fmt.Errorf("stop %s: %w", c.PortName, ErrStopTimeout)
	}
}

// Disconnect stops the loop and releases the port even if the loop did not
// terminate. Calling it again is a no-op.
func (r *Reader) Disconnect() error {
	r.mu.Lock()
	c := r.conn
	r.conn = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	stopErr := r.stop(c)
	if err := c.close(); err != nil {
		ionlog.Errorf("Failed to close serial port %s: %v", c.PortName, err)
		return errors.Join(stopErr, fmt.Errorf("close %s: %w", c.PortName, err))
	}
	ionlog.Infof("Disconnected from %s", c.PortName)
	return stopErr
}

func (r *Reader) readLoop(c *Connection) {
	defer close(c.done)
	defer c.reading.Store(false)

	ionlog.Infof("Read loop started on %s", c.PortName)

	buf := make([]byte, r.bufferSize)
	var partial []byte
	skipping := false

	for c.Reading() {
		n, err := c.port.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if skipping {
				_, rest, found := bytes.Cut(chunk, newline)
				if found {
					skipping = false
				}
				chunk = rest
			}

			partial = append(partial, chunk...)
			partial = r.dispatchLines(c, partial)

			if len(partial) > r.maxLine {
				r.overflow(c, partial)
				partial = partial[:0]
				skipping = true
			}
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if len(partial) > 0 && c.Reading() {
				r.handleLine(string(partial))
			}
			ionlog.Infof("End of stream on %s", c.PortName)
			return
		}

		if !c.Reading() || !c.Open() || isClosed(err) {
			ionlog.Infof("Read loop on %s stopping: %v", c.PortName, err)
			return
		}

		ionlog.Errorf("Error reading from serial port %s: %v", c.PortName, err)
		c.reading.Store(false)
		r.bus.Publish(event.FatalError(fmt.Sprintf("serial read error on %s: %v", c.PortName, err)))
		return
	}

	ionlog.Infof("Read loop on %s stopped", c.PortName)
}

// dispatchLines handles every complete line in data and returns the
// unterminated remainder.
func (r *Reader) dispatchLines(c *Connection, data []byte) []byte {
	for c.Reading() {
		line, rest, found := bytes.Cut(data, newline)
		if !found {
			break
		}
		data = rest
		r.handleLine(string(line))
	}
	return data
}

func (r *Reader) overflow(c *Connection, data []byte) {
	ionlog.Warnf("Discarding %d bytes without a line break on %s", len(data), c.PortName)
	preview := strings.TrimSpace(string(data[:min(len(data), overflowPreview)]))
	r.bus.Publish(event.ParseError(preview))
}

func (r *Reader) handleLine(line string) {
	r.bus.Publish(ParseLine(line))
}

// ParseLine classifies one device line.
func ParseLine(line string) event.Event {
	trimmed := strings.TrimSpace(line)

	if signal, ok := event.ParseStatus(trimmed); ok {
		return event.Status(signal)
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return event.ParseError(trimmed)
	}
	return event.Sample(value, 0)
}

func isClosed(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		portconfig.IsPortClosed(err)
}
