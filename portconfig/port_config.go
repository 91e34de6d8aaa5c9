package portconfig

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/IonicHealthUsa/ionlog"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 100 * time.Millisecond
)

type Config struct {
	SelectedPort string
	BaudRate     int
	DataBits     int
	StopBits     int
	Parity       string
	ReadTimeout  time.Duration
}

// Default returns 8-N-1 framing at the given rate.
func Default(port string, baudRate int) Config {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return Config{
		SelectedPort: port,
		BaudRate:     baudRate,
		DataBits:     8,
		StopBits:     1,
		Parity:       "N",
		ReadTimeout:  DefaultReadTimeout,
	}
}

func (c Config) Mode() (*serial.Mode, error) {
	var parity serial.Parity
	switch c.Parity {
	case "N", "":
		parity = serial.NoParity
	case "O":
		parity = serial.OddParity
	case "E":
		parity = serial.EvenParity
	case "M":
		parity = serial.MarkParity
	case "S":
		parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("invalid parity %q", c.Parity)
	}

	var stopBits serial.StopBits
	switch c.StopBits {
	case 1, 0:
		stopBits = serial.OneStopBit
	case 2:
		stopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d", c.StopBits)
	}

	dataBits := c.DataBits
	if dataBits == 0 {
		dataBits = 8
	}

	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// OpenSerialPort opens the port and applies the read timeout. A zero timeout
// falls back to DefaultReadTimeout; the read loop relies on Read returning
// periodically to notice a stop request.
func OpenSerialPort(config Config) (serial.Port, error) {
	mode, err := config.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(config.SelectedPort, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", config.SelectedPort, config.BaudRate, err)
	}

	timeout := config.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		if closeErr := port.Close(); closeErr != nil {
			ionlog.Errorf("Failed to close serial port %s: %v", config.SelectedPort, closeErr)
		}
		return nil, fmt.Errorf("set read timeout on %s: %w", config.SelectedPort, err)
	}

	ionlog.Infof("Opened %s at %d baud (%d%s%d)", config.SelectedPort, mode.BaudRate, mode.DataBits, config.parityLetter(), config.stopBitsOrDefault())
	return port, nil
}

// Opener returns a function suitable for the stream reader that opens
// 8-N-1 ports with the given read timeout.
func Opener(readTimeout time.Duration) func(port string, baudRate int) (io.ReadCloser, error) {
	base := Default("", 0)
	base.ReadTimeout = readTimeout
	return base.Opener()
}

// Opener keeps the framing and read timeout of c and takes port and baud
// rate from each call.
func (c Config) Opener() func(port string, baudRate int) (io.ReadCloser, error) {
	return func(port string, baudRate int) (io.ReadCloser, error) {
		cfg := c
		cfg.SelectedPort = port
		cfg.BaudRate = baudRate
		p, err := OpenSerialPort(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// IsPortClosed reports whether err means the port was closed under a pending read.
func IsPortClosed(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}
	return false
}

func (c Config) parityLetter() string {
	if c.Parity == "" {
		return "N"
	}
	return c.Parity
}

func (c Config) stopBitsOrDefault() int {
	if c.StopBits == 0 {
		return 1
	}
	return c.StopBits
}
