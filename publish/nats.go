// Package publish forwards monitor events to NATS subjects as JSON so other
// processes (dashboards, recorders, alarm services) can follow a session.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"ecg-monitor/event"

	"github.com/IonicHealthUsa/ionlog"
	"github.com/nats-io/nats.go"
)

const DefaultPrefix = "ecg"

var ErrNotConnected = errors.New("nats connection is not set")

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("ecg-monitor"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				ionlog.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			ionlog.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

type Options struct {
	Prefix string
	// Samples enables the per-sample subject. It carries every reading at
	// the device rate.
	Samples bool
}

type Publisher struct {
	conn    Conn
	prefix  string
	samples bool

	published atomic.Int64
	failed    atomic.Int64
	// failing suppresses repeated error logs until a publish succeeds again
	failing atomic.Bool
}

func New(conn Conn, opts Options) (*Publisher, error) {
	if conn == nil {
		return nil, ErrNotConnected
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Publisher{conn: conn, prefix: opts.Prefix, samples: opts.Samples}, nil
}

// Subject maps an event kind to its subject suffix. Reset events have none.
func Subject(prefix string, k event.Kind) (string, bool) {
	var suffix string
	switch k {
	case event.KindSample:
		suffix = "sample"
	case event.KindStatus:
		suffix = "status"
	case event.KindPeak:
		suffix = "peak"
	case event.KindRate:
		suffix = "rate"
	case event.KindIndicator:
		suffix = "indicator"
	case event.KindParseError, event.KindFatalError:
		suffix = "error"
	default:
		return "", false
	}
	return prefix + "." + suffix, true
}

// Handle is an event.Handler. It runs on the monitor's delivery goroutine
// and never blocks on the network; nats buffers while reconnecting.
func (p *Publisher) Handle(e event.Event) {
	if e.Kind == event.KindSample && !p.samples {
		return
	}
	subject, ok := Subject(p.prefix, e.Kind)
	if !ok {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		ionlog.Errorf("Failed to encode %s event: %v", e.Kind, err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.failed.Add(1)
		if !p.failing.Swap(true) {
			ionlog.Errorf("Failed to publish on %s: %v", subject, err)
		}
		return
	}
	if p.failing.Swap(false) {
		ionlog.Infof("Publishing on %s again", subject)
	}
	p.published.Add(1)
}

func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}
