package streamreader

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecg-monitor/event"

	"github.com/IonicHealthUsa/ionlog"
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

type pipeDevice struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	opened  atomic.Int32
}

func (d *pipeDevice) open(port string, baudRate int) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	d.mu.Lock()
	d.writers = append(d.writers, pw)
	d.mu.Unlock()
	d.opened.Add(1)
	return pr, nil
}

func (d *pipeDevice) writer(i int) *io.PipeWriter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writers[i]
}

// idlePort behaves like a serial port with a short read timeout and no data.
type idlePort struct {
	closed atomic.Int32
}

func (p *idlePort) Read(b []byte) (int, error) {
	if p.closed.Load() > 0 {
		return 0, os.ErrClosed
	}
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (p *idlePort) Close() error {
	p.closed.Add(1)
	return nil
}

// stuckPort never returns from Read until closed.
type stuckPort struct {
	once     sync.Once
	unblock  chan struct{}
	closures atomic.Int32
}

func newStuckPort() *stuckPort {
	return &stuckPort{unblock: make(chan struct{})}
}

func (p *stuckPort) Read(b []byte) (int, error) {
	<-p.unblock
	return 0, os.ErrClosed
}

func (p *stuckPort) Close() error {
	p.closures.Add(1)
	p.once.Do(func() { close(p.unblock) })
	return nil
}

func collect(r *Reader) <-chan event.Event {
	ch := make(chan event.Event, 64)
	r.AddSubscriber(func(e event.Event) { ch <- e })
	return ch
}

func next(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
}

func TestReaderParsesLines(t *testing.T) {
	dev := &pipeDevice{}
	r := New(Options{Opener: dev.open})
	events := collect(r)

	require.NoError(t, r.Start("/dev/ttyACM0", 9600))
	conn := r.Connection()
	require.NotNil(t, conn)
	assert.Equal(t, "/dev/ttyACM0", conn.PortName)
	assert.Equal(t, 9600, conn.BaudRate)

	go func() {
		w := dev.writer(0)
		io.WriteString(w, "100\nELECTRODES_DISCONNECTED\nxyz\n  600 \r\n")
		io.WriteString(w, "STATUS:ELECTRODES_CONNECTED\n-5\n")
		w.Close()
	}()

	assert.Equal(t, event.Sample(100, 0), next(t, events))
	assert.Equal(t, event.Status(event.ElectrodesDisconnected), next(t, events))
	assert.Equal(t, event.ParseError("xyz"), next(t, events))
	assert.Equal(t, event.Sample(600, 0), next(t, events))
	assert.Equal(t, event.Status(event.ElectrodesConnected), next(t, events))
	assert.Equal(t, event.Sample(-5, 0), next(t, events))

	// end of input terminates the loop without an error event
	waitDone(t, conn)
	assert.False(t, r.Reading())
	select {
	case e := <-events:
		t.Fatalf("unexpected event after EOF: %v", e)
	default:
	}

	require.NoError(t, r.Disconnect())
}

func TestReaderJoinsPartialLines(t *testing.T) {
	dev := &pipeDevice{}
	r := New(Options{Opener: dev.open})
	events := collect(r)

	require.NoError(t, r.Start("sim", 9600))
	go func() {
		w := dev.writer(0)
		io.WriteString(w, "12")
		io.WriteString(w, "34\n5")
		io.WriteString(w, "6")
		w.Close()
	}()

	assert.Equal(t, event.Sample(1234, 0), next(t, events))
	// trailing line without newline is flushed at EOF
	assert.Equal(t, event.Sample(56, 0), next(t, events))
	require.NoError(t, r.Disconnect())
}

// chunkPort replays fixed reads and then reports EOF.
type chunkPort struct {
	chunks []string
}

func (p *chunkPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	p.chunks[0] = p.chunks[0][n:]
	if p.chunks[0] == "" {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *chunkPort) Close() error { return nil }

func TestOverlongLineIsDroppedOnce(t *testing.T) {
	chunks := make([]string, 0, 12)
	for range 10 {
		chunks = append(chunks, strings.Repeat("7", 16))
	}
	chunks = append(chunks, "77\n42\n")

	port := &chunkPort{chunks: chunks}
	r := New(Options{
		Opener:        func(string, int) (io.ReadCloser, error) { return port, nil },
		BufferSize:    16,
		MaxLineLength: 100,
	})
	events := collect(r)

	require.NoError(t, r.Start("a", 9600))

	first := next(t, events)
	assert.Equal(t, event.KindParseError, first.Kind)
	assert.Equal(t, strings.Repeat("7", 64), first.Text)
	assert.Equal(t, event.Sample(42, 0), next(t, events))

	waitDone(t, r.Connection())
	select {
	case e := <-events:
		t.Fatalf("unexpected event after the overlong line: %+v", e)
	default:
	}
	require.NoError(t, r.Disconnect())
}

func TestSlowOpenDoesNotBlockQueries(t *testing.T) {
	release := make(chan struct{})
	dev := &pipeDevice{}
	r := New(Options{Opener: func(port string, baudRate int) (io.ReadCloser, error) {
		<-release
		return dev.open(port, baudRate)
	}})

	started := make(chan error, 1)
	go func() { started <- r.Start("a", 9600) }()

	queried := make(chan struct{})
	go func() {
		r.Reading()
		r.Connection()
		close(queried)
	}()

	select {
	case <-queried:
	case <-time.After(time.Second):
		t.Fatal("Reading blocked while the port was opening")
	}

	close(release)
	require.NoError(t, <-started)
	assert.True(t, r.Reading())
	assert.Equal(t, "a", r.Connection().PortName)
	require.NoError(t, r.Disconnect())
}

func TestStartIsIdempotent(t *testing.T) {
	dev := &pipeDevice{}
	r := New(Options{Opener: dev.open})

	require.NoError(t, r.Start("a", 9600))
	first := r.Connection()
	require.NoError(t, r.Start("a", 9600))

	assert.Same(t, first, r.Connection())
	assert.Equal(t, int32(1), dev.opened.Load())
	assert.True(t, r.Reading())

	dev.writer(0).Close()
	waitDone(t, first)
	require.NoError(t, r.Disconnect())
}

func TestStartFailurePublishesFatalError(t *testing.T) {
	openErr := errors.New("port busy")
	r := New(Options{Opener: func(string, int) (io.ReadCloser, error) { return nil, openErr }})
	events := collect(r)

	err := r.Start("/dev/ttyUSB9", 9600)
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)

	e := next(t, events)
	assert.Equal(t, event.KindFatalError, e.Kind)
	assert.Contains(t, e.Text, "/dev/ttyUSB9")
	assert.False(t, r.Reading())
	assert.Nil(t, r.Connection())
}

func TestReadErrorIsFatalToSession(t *testing.T) {
	dev := &pipeDevice{}
	r := New(Options{Opener: dev.open})
	events := collect(r)

	require.NoError(t, r.Start("a", 9600))
	conn := r.Connection()

	go func() {
		w := dev.writer(0)
		io.WriteString(w, "700\n")
		w.CloseWithError(errors.New("device unplugged"))
	}()

	assert.Equal(t, event.Sample(700, 0), next(t, events))
	e := next(t, events)
	assert.Equal(t, event.KindFatalError, e.Kind)
	assert.Contains(t, e.Text, "device unplugged")

	waitDone(t, conn)
	assert.False(t, r.Reading())
	// the port stays held until Disconnect
	assert.True(t, conn.Open())

	// a fresh Start reopens the device
	require.NoError(t, r.Start("a", 9600))
	assert.Equal(t, int32(2), dev.opened.Load())
	assert.False(t, conn.Open())
	assert.True(t, r.Reading())

	dev.writer(1).Close()
	waitDone(t, r.Connection())
	require.NoError(t, r.Disconnect())
}

func TestStopKeepsPortOpen(t *testing.T) {
	port := &idlePort{}
	r := New(Options{Opener: func(string, int) (io.ReadCloser, error) { return port, nil }})

	require.NoError(t, r.Start("a", 9600))
	conn := r.Connection()

	require.NoError(t, r.Stop())
	waitDone(t, conn)
	assert.False(t, r.Reading())
	assert.True(t, conn.Open())
	assert.Equal(t, int32(0), port.closed.Load())

	require.NoError(t, r.Disconnect())
	assert.Equal(t, int32(1), port.closed.Load())

	// repeated disconnects are no-ops
	require.NoError(t, r.Disconnect())
	require.NoError(t, r.Stop())
	assert.Equal(t, int32(1), port.closed.Load())
}

func TestStopWaitIsBounded(t *testing.T) {
	port := newStuckPort()
	r := New(Options{
		Opener:      func(string, int) (io.ReadCloser, error) { return port, nil },
		StopTimeout: 50 * time.Millisecond,
	})
	events := collect(r)

	require.NoError(t, r.Start("a", 9600))
	conn := r.Connection()

	start := time.Now()
	err := r.Stop()
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.True(t, time.Since(start) < time.Second, "stop waited %v", time.Since(start))

	// Disconnect releases the device even though the loop is stuck
	err = r.Disconnect()
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, int32(1), port.closures.Load())

	waitDone(t, conn)
	select {
	case e := <-events:
		t.Fatalf("closing a stopped port must not report an error, got %v", e)
	default:
	}
}

func TestRemoveSubscriber(t *testing.T) {
	dev := &pipeDevice{}
	r := New(Options{Opener: dev.open})

	var removed atomic.Int32
	id := r.AddSubscriber(func(event.Event) { removed.Add(1) })
	events := collect(r)
	require.True(t, r.RemoveSubscriber(id))

	require.NoError(t, r.Start("a", 9600))
	go func() {
		w := dev.writer(0)
		io.WriteString(w, "1\n")
		w.Close()
	}()

	assert.Equal(t, event.Sample(1, 0), next(t, events))
	assert.Equal(t, int32(0), removed.Load())
	require.NoError(t, r.Disconnect())
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want event.Event
	}{
		{"512", event.Sample(512, 0)},
		{" 945\r", event.Sample(945, 0)},
		{"ELECTRODES_DISCONNECTED", event.Status(event.ElectrodesDisconnected)},
		{"STATUS:ELECTRODES_DISCONNECTED\r", event.Status(event.ElectrodesDisconnected)},
		{"STATUS:NOISE", event.Status(event.StatusUnknown)},
		{"xyz", event.ParseError("xyz")},
		{"12.5", event.ParseError("12.5")},
		{"", event.ParseError("")},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLine(tt.line), "ParseLine(%q)", tt.line)
	}
}
