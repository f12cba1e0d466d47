package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}

	if err := cfg.Device.Validate(); err != nil {
		return err
	}

	switch cfg.Storage.Backend {
	case StorageJSON:
		if cfg.Storage.Path == "" {
			return errors.New("storage: path required for json backend")
		}
	case StoragePostgres:
		if cfg.Database.Host == "" || cfg.Database.Database == "" {
			return errors.New("database: host and database required for postgres backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server: http_port %d out of range", cfg.Server.HTTPPort)
	}

	worst := cfg.Device.WorstCaseSession(cfg.Device.SampleCount)
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout < worst {
		return fmt.Errorf("server: write_timeout %s is shorter than a worst-case session (%s)",
			cfg.Server.WriteTimeout, worst)
	}

	return nil
}

// Validate checks the device invariants: at least one sample, non-negative
// durations and a serial setup the RTU transport can open.
func (d *DeviceConfig) Validate() error {
	if d.Port == "" {
		return errors.New("device: port required")
	}
	if d.BaudRate <= 0 {
		return fmt.Errorf("device: baud_rate must be > 0 (got %d)", d.BaudRate)
	}
	switch strings.ToUpper(d.Parity) {
	case "N", "E", "O":
	default:
		return fmt.Errorf("device: parity must be one of N, E, O (got %q)", d.Parity)
	}
	if d.StopBits != 1 && d.StopBits != 2 {
		return fmt.Errorf("device: stop_bits must be 1 or 2 (got %d)", d.StopBits)
	}
	if d.DataBits < 5 || d.DataBits > 8 {
		return fmt.Errorf("device: data_bits must be 5..8 (got %d)", d.DataBits)
	}
	if d.SlaveID < 1 || d.SlaveID > 247 {
		return fmt.Errorf("device: slave_id must be 1..247 (got %d)", d.SlaveID)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("device: timeout must be > 0 (got %s)", d.Timeout)
	}
	if d.PollInterval < 0 {
		return fmt.Errorf("device: poll_interval must be >= 0 (got %s)", d.PollInterval)
	}
	if d.SampleCount < 1 {
		return fmt.Errorf("device: sample_count must be >= 1 (got %d)", d.SampleCount)
	}
	if d.Debounce < 0 {
		return fmt.Errorf("device: debounce must be >= 0 (got %s)", d.Debounce)
	}
	if d.TriggerEnabled {
		if d.GPIOChip == "" {
			return errors.New("device: gpio_chip required when trigger is enabled")
		}
		if d.GPIOLine < 0 {
			return fmt.Errorf("device: gpio_line must be >= 0 (got %d)", d.GPIOLine)
		}
		switch d.TriggerEdge {
		case "both", "rising", "falling":
		default:
			return fmt.Errorf("device: trigger_edge must be both, rising or falling (got %q)", d.TriggerEdge)
		}
	}
	return nil
}
