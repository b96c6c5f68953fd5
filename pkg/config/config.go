package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  logrus.Level    `yaml:"log_level"`
	Admission AdmissionConfig `yaml:"admission"`
	Link      LinkConfig      `yaml:"link"`
	Scan      ScanConfig      `yaml:"scan"`
	Server    ServerConfig    `yaml:"server"`
}

// AdmissionConfig selects which advertisements enter the registry
type AdmissionConfig struct {
	MinRSSI    int      `yaml:"min_rssi" default:"-70"`
	NamePrefix string   `yaml:"name_prefix" default:"ECO"`
	Allow      []string `yaml:"allow"`
	Block      []string `yaml:"block"`
}

// LinkConfig bounds link operations
type LinkConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"10s"`
	OperationTimeout   time.Duration `yaml:"operation_timeout" default:"5s"`
	PairingSettleDelay time.Duration `yaml:"pairing_settle_delay" default:"500ms"`
}

// ScanConfig configures discovery
type ScanConfig struct {
	Duration        time.Duration `yaml:"duration" default:"10s"`
	AllowDuplicates bool          `yaml:"allow_duplicates"`
	EventBuffer     int           `yaml:"event_buffer" default:"100"`
}

// ServerConfig configures the HTTP front end
type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty path yields
// the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error

	if c.Admission.MinRSSI < -127 || c.Admission.MinRSSI > 20 {
		errs = append(errs, fmt.Errorf("admission.min_rssi %d is outside [-127, 20]", c.Admission.MinRSSI))
	}
	if c.Admission.NamePrefix == "" {
		errs = append(errs, errors.New("admission.name_prefix must not be empty"))
	}
	if c.Link.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("link.connect_timeout must be positive"))
	}
	if c.Link.OperationTimeout <= 0 {
		errs = append(errs, errors.New("link.operation_timeout must be positive"))
	}
	if c.Link.PairingSettleDelay < 0 {
		errs = append(errs, errors.New("link.pairing_settle_delay must not be negative"))
	}
	if c.Scan.Duration < 0 {
		errs = append(errs, errors.New("scan.duration must not be negative"))
	}
	if c.Scan.EventBuffer <= 0 {
		errs = append(errs, errors.New("scan.event_buffer must be positive"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
