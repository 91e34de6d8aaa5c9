package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecg-monitor/config"
	"ecg-monitor/event"
	"ecg-monitor/logwriter"
	"ecg-monitor/monitor"
	"ecg-monitor/publish"
	"ecg-monitor/server"
	"ecg-monitor/simulator"
	"ecg-monitor/streamreader"
	"ecg-monitor/tui"

	"github.com/IonicHealthUsa/ionlog"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		headless   = flag.Bool("headless", false, "log events instead of starting the terminal UI")
		simulate   = flag.Bool("simulate", false, "read from the built-in simulated device")
		port       = flag.String("port", "", "serial port, overrides the config file")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *simulate {
		cfg.Simulator.Enabled = true
	}

	var logOutput io.Writer = logwriter.Logger()
	if *headless {
		logOutput = os.Stdout
	}
	ionlog.SetAttributes(
		ionlog.WithWriters(
			ionlog.CustomOutput(logOutput),
		),
	)

	ionlog.Start()
	defer ionlog.Stop()

	if !*headless {
		selected, err := tui.SetupConfiguration(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			return
		}
		if selected == nil {
			fmt.Fprintf(os.Stderr, "No configuration selected, exiting.\n")
			return
		}
		cfg = selected
	}

	mon, err := newMonitor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up monitor: %v\n", err)
		return
	}
	defer func() {
		if err := mon.Disconnect(); err != nil {
			ionlog.Errorf("Disconnect: %v", err)
		}
	}()

	if cfg.NATS.URL != "" {
		if nc, err := publish.Connect(cfg.NATS.URL); err != nil {
			ionlog.Errorf("Events will not be published: %v", err)
		} else {
			defer nc.Drain()
			if err := attachPublisher(mon, nc, cfg.NATS); err != nil {
				ionlog.Errorf("Events will not be published: %v", err)
			}
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := server.New(mon)
		if err := srv.Start(cfg.HTTP.Addr); err != nil {
			ionlog.Errorf("HTTP server disabled: %v", err)
		} else {
			mon.Subscribe(srv.Handle)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					ionlog.Errorf("HTTP shutdown: %v", err)
				}
			}()
		}
	}

	if *headless {
		runHeadless(mon)
		return
	}

	feed := tui.NewFeed(4096)
	mon.Subscribe(feed.Handle)

	// failures show up as the connection indicator
	if err := mon.Start(); err != nil {
		ionlog.Errorf("Start: %v", err)
	}

	p := tea.NewProgram(
		tui.InitialModel(tui.Options{
			Controller:   mon,
			Events:       feed.Events(),
			Logs:         logwriter.Messages(),
			Threshold:    cfg.Detector.Threshold,
			SamplingRate: cfg.Detector.SamplingRate,
		}),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
	}
	if n := feed.Dropped(); n > 0 {
		ionlog.Warnf("UI dropped %d events", n)
	}
}

func newMonitor(cfg *config.Config) (*monitor.Monitor, error) {
	opts := streamreader.Options{
		ReadTimeout: cfg.Serial.ReadTimeout,
		StopTimeout: cfg.Serial.StopTimeout,
	}

	portName := cfg.Serial.Port
	if !cfg.Simulator.Enabled {
		opts.Opener = cfg.PortConfig().Opener()
	} else {
		opts.Opener = simulator.Opener(simulator.Options{
			SamplingRate: cfg.Detector.SamplingRate,
			HeartRate:    cfg.Simulator.HeartRate,
			Noise:        cfg.Simulator.Noise,
			DropoutEvery: cfg.Simulator.Dropout,
			Realtime:     true,
		})
		if portName == "" {
			portName = tui.SimulatedPort
		}
	}

	return monitor.New(monitor.Config{
		Port:            portName,
		BaudRate:        cfg.Serial.BaudRate,
		Peak:            cfg.PeakConfig(),
		MinValidSamples: cfg.Quality.MinValidSamples,
		Reader:          opts,
	})
}

func attachPublisher(mon *monitor.Monitor, conn publish.Conn, cfg config.NATSConfig) error {
	pub, err := publish.New(conn, publish.Options{
		Prefix:  cfg.SubjectPrefix,
		Samples: cfg.PublishSamples,
	})
	if err != nil {
		return err
	}
	mon.Subscribe(pub.Handle)
	ionlog.Infof("Publishing events on %s.*", cfg.SubjectPrefix)
	return nil
}

func runHeadless(mon *monitor.Monitor) {
	mon.AddSubscriber(event.Funcs{
		Rate: func(bpm int) {
			ionlog.Infof("Heart rate %d BPM", bpm)
		},
		Status: func(signal event.StatusSignal) {
			ionlog.Infof("Device status %s", signal)
		},
		Fatal: func(description string) {
			ionlog.Errorf("Acquisition stopped: %s", description)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.Start(); err != nil {
		ionlog.Errorf("Start: %v", err)
		return
	}

	<-ctx.Done()
	ionlog.Info("Shutting down")
}
