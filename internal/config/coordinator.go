// Package config loads and validates the YAML configuration files for the
// Coordinator, Subcoordinator, and Peer processes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBatchSize is the default strand batch size B.
const DefaultBatchSize = 3

// CoordinatorConfig is the full configuration for the Coordinator process.
type CoordinatorConfig struct {
	Listen      ListenInfo  `yaml:"listen"`
	BatchSize   int         `yaml:"batch_size"`
	Logging     LoggingInfo `yaml:"logging"`
	Diagnostics CronInfo    `yaml:"diagnostics"`
}

// ListenInfo carries the TCP address a process listens on for its primary
// admission/control port.
type ListenInfo struct {
	Address string `yaml:"address"`
}

// LoggingInfo mirrors the logging configuration shape shared by all
// processes: level, format, and optional file sink.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// CronInfo configures an optional periodic diagnostics job.
type CronInfo struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron expression or descriptor such as "@every 1m"
}

// LoadCoordinatorConfig reads and validates the Coordinator YAML config.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading coordinator config: %w", err)
	}

	var cfg CoordinatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing coordinator config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating coordinator config: %w", err)
	}

	return &cfg, nil
}

func (c *CoordinatorConfig) validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Schedule == "" {
		c.Diagnostics.Schedule = "@every 1m"
	}
	return nil
}

// diagnosticsInterval is the plain time.Duration form of the Coordinator's
// default diagnostics schedule ("@every 1m"). Nothing in the module reads it;
// the diagnostics jobs are scheduled from CronInfo.Schedule.
const diagnosticsInterval = 1 * time.Minute
