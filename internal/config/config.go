// Package config loads and validates the daemon configuration from a
// YAML file, layered over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lanscout/lanscout/internal/db"
	"github.com/lanscout/lanscout/internal/discovery"
	"github.com/lanscout/lanscout/internal/errors"
	"github.com/lanscout/lanscout/internal/notify"
	"github.com/lanscout/lanscout/internal/scanning"
)

// Config is the complete daemon configuration.
type Config struct {
	Daemon    DaemonConfig     `yaml:"daemon" json:"daemon"`
	Database  db.Config        `yaml:"database" json:"database"`
	Discovery discovery.Config `yaml:"discovery" json:"discovery"`
	Scanning  ScanningConfig   `yaml:"scanning" json:"scanning"`
	Scheduler SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	MQTT      notify.Config    `yaml:"mqtt" json:"mqtt"`
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	PIDFile         string        `yaml:"pid_file" json:"pid_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// ScanningConfig holds enrichment and probing settings.
type ScanningConfig struct {
	EnrichConcurrency int           `yaml:"enrich_concurrency" json:"enrich_concurrency" validate:"gt=0"`
	ProbeConcurrency  int           `yaml:"probe_concurrency" json:"probe_concurrency" validate:"gt=0"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" json:"probe_timeout" validate:"gt=0"`
	DNSServer         string        `yaml:"dns_server" json:"dns_server"`
	DNSTimeout        time.Duration `yaml:"dns_timeout" json:"dns_timeout" validate:"gt=0"`
}

// SchedulerConfig holds poll loop settings.
type SchedulerConfig struct {
	SchedulePoll  time.Duration `yaml:"schedule_poll" json:"schedule_poll" validate:"gt=0"`
	QueuePoll     time.Duration `yaml:"queue_poll" json:"queue_poll" validate:"gt=0"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent" validate:"gt=0"`
}

// MetricsConfig holds the observability listener settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults. Database
// name, username and password must be configured explicitly.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/lanscout.pid",
			ShutdownTimeout: 30 * time.Second,
		},
		Database:  db.DefaultConfig(),
		Discovery: discovery.DefaultConfig(),
		Scanning: ScanningConfig{
			EnrichConcurrency: scanning.DefaultEnrichConcurrency,
			ProbeConcurrency:  50,
			ProbeTimeout:      time.Second,
			DNSTimeout:        2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			SchedulePoll:  5 * time.Second,
			QueuePoll:     time.Second,
			MaxConcurrent: 1,
		},
		MQTT: notify.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads configuration from a YAML file layered over defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError("failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError("failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapConfigError("failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError("failed to encode config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapConfigError("failed to write config file", err)
	}
	return nil
}

// Validate checks the configuration for structural and semantic errors.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid value for %s", verrs[0].Namespace()), verrs[0].Field())
		}
		return errors.WrapConfigError("configuration validation failed", err)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"metrics listen address is required when metrics are enabled", "metrics.listen_addr")
	}
	return nil
}

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}
