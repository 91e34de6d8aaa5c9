package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"ecg-monitor/peak"
	"ecg-monitor/portconfig"
	"ecg-monitor/quality"
	"ecg-monitor/streamreader"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Detector  DetectorConfig  `yaml:"detector"`
	Quality   QualityConfig   `yaml:"quality"`
	Simulator SimulatorConfig `yaml:"simulator"`
	NATS      NATSConfig      `yaml:"nats"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type DetectorConfig struct {
	Threshold    int `yaml:"threshold"`
	SamplingRate int `yaml:"sampling_rate"`
	Window       int `yaml:"window"`
}

type QualityConfig struct {
	MinValidSamples int `yaml:"min_valid_samples"`
}

type SimulatorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	HeartRate float64       `yaml:"heart_rate"`
	Noise     float64       `yaml:"noise"`
	Dropout   time.Duration `yaml:"dropout_every"`
}

type NATSConfig struct {
	URL            string `yaml:"url"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	PublishSamples bool   `yaml:"publish_samples"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:    portconfig.DefaultBaudRate,
			ReadTimeout: portconfig.DefaultReadTimeout,
			StopTimeout: streamreader.DefaultStopTimeout,
		},
		Detector: DetectorConfig{
			Threshold:    peak.DefaultThreshold,
			SamplingRate: peak.DefaultSamplingRate,
			Window:       peak.DefaultWindow,
		},
		Quality: QualityConfig{
			MinValidSamples: quality.DefaultMinValidSamples,
		},
		Simulator: SimulatorConfig{
			HeartRate: 72,
			Noise:     0.02,
		},
		NATS: NATSConfig{
			SubjectPrefix: "ecg",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ReadTimeout <= 0 {
		errs = append(errs, errors.New("serial.read_timeout must be positive; an unbounded read makes shutdown hang"))
	}
	if err := c.PeakConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if c.Quality.MinValidSamples <= 0 {
		errs = append(errs, fmt.Errorf("quality.min_valid_samples must be positive, got %d", c.Quality.MinValidSamples))
	}
	if c.Simulator.Enabled && c.Simulator.HeartRate <= 0 {
		errs = append(errs, fmt.Errorf("simulator.heart_rate must be positive, got %v", c.Simulator.HeartRate))
	}
	return errors.Join(errs...)
}

func (c *Config) PeakConfig() peak.Config {
	return peak.Config{
		Threshold:    c.Detector.Threshold,
		SamplingRate: c.Detector.SamplingRate,
		Window:       c.Detector.Window,
	}
}

func (c *Config) PortConfig() portconfig.Config {
	pc := portconfig.Default(c.Serial.Port, c.Serial.BaudRate)
	pc.ReadTimeout = c.Serial.ReadTimeout
	return pc
}
