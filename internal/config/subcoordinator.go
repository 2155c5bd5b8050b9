package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxChunkSize is MAX_CHUNK_SIZE from the wire contract: the maximum
// number of raw bytes carried by one video_frame chunk.
const DefaultMaxChunkSize = 5000

// DefaultInterChunkGap is the default pacing delay between chunk emissions.
const DefaultInterChunkGap = 100 * time.Microsecond

// SubcoordinatorConfig is the full configuration for a Subcoordinator process.
type SubcoordinatorConfig struct {
	Listen          ListenInfo      `yaml:"listen"`
	CoordinatorAddr string          `yaml:"coordinator_address"`
	BatchSize       int             `yaml:"batch_size"` // B: the strand's first batch size, gates automatic streaming start
	Streaming       StreamingConfig `yaml:"streaming"`
	Videos          []string        `yaml:"videos"` // source file paths, consumed in order by FILE_COUNT
	Archive         ArchiveConfig   `yaml:"archive"`
	Logging         LoggingInfo     `yaml:"logging"`
	Diagnostics     CronInfo        `yaml:"diagnostics"`
	CLI             CLIConfig       `yaml:"cli"`
}

// CLIConfig controls the interactive operator surface described in §6
// ("drop"/"switch"/"list"/"quit" over stdin/stdout).
type CLIConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StreamingConfig controls the per-frame encode/compress/chunk/send pipeline.
type StreamingConfig struct {
	JPEGQuality    int           `yaml:"jpeg_quality"`     // default 40
	MaxChunkSize   int           `yaml:"max_chunk_size"`   // default 5000
	InterChunkGap  time.Duration `yaml:"inter_chunk_gap"`  // default 100µs
	ReplayGraceFor time.Duration `yaml:"replay_grace_for"` // how long frame buffers are kept after video_end before archival is eligible
}

// ArchiveConfig controls optional S3 archival of completed video frame
// buffers. This is a durability/observability side-channel; it never gates
// streaming or replay.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"` // optional S3-compatible endpoint override
}

// LoadSubcoordinatorConfig reads and validates a Subcoordinator YAML config.
func LoadSubcoordinatorConfig(path string) (*SubcoordinatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading subcoordinator config: %w", err)
	}

	var cfg SubcoordinatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing subcoordinator config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating subcoordinator config: %w", err)
	}

	return &cfg, nil
}

func (c *SubcoordinatorConfig) validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.CoordinatorAddr == "" {
		return fmt.Errorf("coordinator_address is required")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if len(c.Videos) == 0 {
		return fmt.Errorf("videos must have at least one entry")
	}
	if c.Streaming.JPEGQuality <= 0 {
		c.Streaming.JPEGQuality = 40
	}
	if c.Streaming.MaxChunkSize <= 0 {
		c.Streaming.MaxChunkSize = DefaultMaxChunkSize
	}
	if c.Streaming.InterChunkGap <= 0 {
		c.Streaming.InterChunkGap = DefaultInterChunkGap
	}
	if c.Streaming.ReplayGraceFor <= 0 {
		c.Streaming.ReplayGraceFor = 30 * time.Second
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive.enabled is true")
		}
		if c.Archive.Region == "" {
			c.Archive.Region = "us-east-1"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Schedule == "" {
		c.Diagnostics.Schedule = "@every 30s"
	}
	return nil
}
