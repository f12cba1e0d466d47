package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" yaml:"http_port"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DeviceConfig describes the serial line, the slave device, the acquisition
// timing and the trigger input. It is immutable once loaded.
type DeviceConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	Parity   string `mapstructure:"parity" yaml:"parity"`
	StopBits int    `mapstructure:"stop_bits" yaml:"stop_bits"`
	DataBits int    `mapstructure:"data_bits" yaml:"data_bits"`

	SlaveID      uint8  `mapstructure:"slave_id" yaml:"slave_id"`
	StartAddress uint16 `mapstructure:"start_address" yaml:"start_address"`

	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SampleCount  int           `mapstructure:"sample_count" yaml:"sample_count"`

	TriggerEnabled bool          `mapstructure:"trigger_enabled" yaml:"trigger_enabled"`
	GPIOChip       string        `mapstructure:"gpio_chip" yaml:"gpio_chip"`
	GPIOLine       int           `mapstructure:"gpio_line" yaml:"gpio_line"`
	TriggerEdge    string        `mapstructure:"trigger_edge" yaml:"trigger_edge"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type StorageConfig struct {
	// Backend is "json" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"-"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
}

const (
	StorageJSON     = "json"
	StoragePostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 3000)
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("device.port", "/dev/ttyUSB0")
	v.SetDefault("device.baud_rate", 9600)
	v.SetDefault("device.parity", "N")
	v.SetDefault("device.stop_bits", 1)
	v.SetDefault("device.data_bits", 8)
	v.SetDefault("device.slave_id", 1)
	v.SetDefault("device.start_address", 0)
	v.SetDefault("device.timeout", "5s")
	v.SetDefault("device.poll_interval", "1s")
	v.SetDefault("device.sample_count", 5)

	v.SetDefault("device.trigger_enabled", true)
	v.SetDefault("device.gpio_chip", "gpiochip0")
	v.SetDefault("device.gpio_line", 17)
	v.SetDefault("device.trigger_edge", "both")
	v.SetDefault("device.debounce", "10ms")

	v.SetDefault("storage.backend", StorageJSON)
	v.SetDefault("storage.path", "data/scan_data.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "opensensorcore")
	v.SetDefault("database.user", "opensensorcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)
}

// Load reads the YAML file at path. An empty path loads defaults and
// environment overrides only. Environment variables use the OSC_ prefix,
// e.g. OSC_DEVICE_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration that Load produces without a file.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// WorstCaseSession bounds a session of n samples: every transaction times
// out and a poll delay follows each read. Sessions skip the delay after the
// last read, so the bound is one PollInterval above the real worst case.
func (d *DeviceConfig) WorstCaseSession(n int) time.Duration {
	return time.Duration(n) * (d.Timeout + d.PollInterval)
}
