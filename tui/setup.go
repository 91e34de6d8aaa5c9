package tui

import (
	"errors"
	"fmt"
	"strconv"

	"ecg-monitor/config"
	"ecg-monitor/portconfig"

	"github.com/IonicHealthUsa/ionlog"
	"github.com/charmbracelet/huh"
)

// SimulatedPort is the pseudo port offered next to the real ones.
const SimulatedPort = "simulated"

var baudRateOptions = []huh.Option[int]{
	huh.NewOption("9600", 9600),
	huh.NewOption("19200", 19200),
	huh.NewOption("38400", 38400),
	huh.NewOption("57600", 57600),
	huh.NewOption("115200", 115200),
	huh.NewOption("230400", 230400),
}

// SetupConfiguration asks for port, baud rate and detection threshold on top
// of base. It returns nil without error when the user aborts the form.
func SetupConfiguration(base *config.Config) (*config.Config, error) {
	cfg := *base

	ports, err := portconfig.ListPorts()
	if err != nil {
		ionlog.Warnf("Port listing failed, only the simulated device is offered: %v", err)
	}

	portOptions := make([]huh.Option[string], 0, len(ports)+1)
	for _, port := range ports {
		portOptions = append(portOptions, huh.NewOption(port, port))
	}
	portOptions = append(portOptions, huh.NewOption("Simulated device", SimulatedPort))

	selected := cfg.Serial.Port
	if cfg.Simulator.Enabled || selected == "" {
		selected = SimulatedPort
		if len(ports) > 0 && !cfg.Simulator.Enabled {
			selected = ports[0]
		}
	}

	var customBaudRate string
	var useCustomBaudRate bool
	threshold := strconv.Itoa(cfg.Detector.Threshold)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select ECG Device").
				Options(portOptions...).
				Value(&selected),

			huh.NewSelect[int]().
				Title("Select Baud Rate").
				Options(baudRateOptions...).
				Value(&cfg.Serial.BaudRate),

			huh.NewConfirm().
				Title("Use custom baud rate?").
				Value(&useCustomBaudRate),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Enter custom baud rate").
				Value(&customBaudRate).
				Validate(validatePositive("baud rate")),
		).WithHideFunc(func() bool { return !useCustomBaudRate }),

		huh.NewGroup(
			huh.NewInput().
				Title("R-peak threshold (ADC units)").
				Value(&threshold).
				Validate(validatePositive("threshold")),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, fmt.Errorf("form error: %w", err)
	}

	if useCustomBaudRate && customBaudRate != "" {
		cfg.Serial.BaudRate, _ = strconv.Atoi(customBaudRate)
	}
	cfg.Detector.Threshold, _ = strconv.Atoi(threshold)

	applyPortSelection(&cfg, selected)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyPortSelection(cfg *config.Config, selected string) {
	cfg.Simulator.Enabled = selected == SimulatedPort
	cfg.Serial.Port = selected
}

func validatePositive(field string) func(string) error {
	return func(str string) error {
		if str == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		v, err := strconv.Atoi(str)
		if err != nil {
			return fmt.Errorf("invalid %s: must be a number", field)
		}
		if v <= 0 {
			return fmt.Errorf("invalid %s: must be positive", field)
		}
		return nil
	}
}
