// Package simulator provides a fake ECG serial device that speaks the same
// newline-delimited text protocol as the real acquisition board.
package simulator

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

const DisconnectedLine = "STATUS:ELECTRODES_DISCONNECTED"

type Options struct {
	SamplingRate int
	HeartRate    float64
	Noise        float64

	// DropoutEvery emits the disconnected sentinel for DropoutLength of
	// simulated time at this period. Zero disables dropouts.
	DropoutEvery  time.Duration
	DropoutLength time.Duration

	// Realtime paces output at SamplingRate. Otherwise every Read returns
	// the next line immediately.
	Realtime bool

	// Limit ends the stream with io.EOF after this many lines. Zero is unlimited.
	Limit int
}

type Device struct {
	opts     Options
	wave     *Waveform
	pending  []byte
	produced int64
	started  time.Time
	pollWait time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func NewDevice(opts Options) *Device {
	if opts.SamplingRate <= 0 {
		opts.SamplingRate = 250
	}
	if opts.HeartRate <= 0 {
		opts.HeartRate = 72
	}
	if opts.DropoutEvery > 0 && opts.DropoutLength <= 0 {
		opts.DropoutLength = time.Second
	}
	return &Device{
		opts:     opts,
		wave:     NewWaveform(float64(opts.SamplingRate), opts.HeartRate, opts.Noise),
		started:  time.Now(),
		pollWait: 100 * time.Millisecond,
		closed:   make(chan struct{}),
	}
}

// Opener adapts the device to the stream reader's Opener signature. Every
// call opens a fresh device.
func Opener(opts Options) func(port string, baudRate int) (io.ReadCloser, error) {
	return func(string, int) (io.ReadCloser, error) {
		return NewDevice(opts), nil
	}
}

// Read returns (0, nil) when no sample is due within the poll interval,
// mirroring a serial port with a read timeout.
func (d *Device) Read(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, os.ErrClosed
	default:
	}

	if len(d.pending) == 0 {
		if d.opts.Limit > 0 && d.produced >= int64(d.opts.Limit) {
			return 0, io.EOF
		}

		due := d.due()
		if due == 0 {
			timer := time.NewTimer(min(d.untilNext(), d.pollWait))
			defer timer.Stop()
			select {
			case <-d.closed:
				return 0, os.ErrClosed
			case <-timer.C:
			}
			due = d.due()
			if due == 0 {
				return 0, nil
			}
		}

		for i := int64(0); i < due; i++ {
			d.pending = append(d.pending, d.nextLine()...)
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *Device) due() int64 {
	var due int64 = 1
	if d.opts.Realtime {
		elapsed := time.Since(d.started)
		due = int64(elapsed.Seconds()*float64(d.opts.SamplingRate)) - d.produced
	}
	if d.opts.Limit > 0 {
		due = min(due, int64(d.opts.Limit)-d.produced)
	}
	return max(due, 0)
}

func (d *Device) untilNext() time.Duration {
	next := time.Duration(d.produced+1) * time.Second / time.Duration(d.opts.SamplingRate)
	return max(time.Until(d.started.Add(next)), time.Millisecond)
}

func (d *Device) nextLine() []byte {
	index := d.produced
	d.produced++

	// the waveform keeps running under a dropout so the rhythm resumes in phase
	value := d.wave.Next()
	if d.inDropout(index) {
		return []byte(DisconnectedLine + "\r\n")
	}
	return append(strconv.AppendInt(nil, int64(value), 10), '\r', '\n')
}

func (d *Device) inDropout(index int64) bool {
	if d.opts.DropoutEvery <= 0 {
		return false
	}
	fs := float64(d.opts.SamplingRate)
	period := int64(d.opts.DropoutEvery.Seconds() * fs)
	length := int64(d.opts.DropoutLength.Seconds() * fs)
	if period <= 0 {
		return false
	}
	pos := index % period
	return index >= period && pos < length
}
