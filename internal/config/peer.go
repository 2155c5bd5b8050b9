package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPlaybackQueueSize is the bounded ring-buffer capacity between the
// decode path and the render loop.
const DefaultPlaybackQueueSize = 100

// PeerConfig is the full configuration for a Peer process.
type PeerConfig struct {
	Name            string         `yaml:"name"`
	DataPort        int            `yaml:"data_port"`
	CtrlPort        int            `yaml:"ctrl_port"` // default: data_port + 10000
	IP              string         `yaml:"ip"`
	CoordinatorAddr string         `yaml:"coordinator_address"`
	Playback        PlaybackConfig `yaml:"playback"`
	LogDir          string         `yaml:"log_dir"`        // directory for peer_<name>.log
	FrameDumpDir    string         `yaml:"frame_dump_dir"` // directory for videoOutput/peer_<name>_frames
	Logging         LoggingInfo    `yaml:"logging"`
}

// PlaybackConfig controls the ordered playback buffer and renderer.
type PlaybackConfig struct {
	QueueSize  int           `yaml:"queue_size"`  // default 100
	FPS        float64       `yaml:"fps"`         // default 24
	StatsEvery time.Duration `yaml:"stats_every"` // default 15s; not read by the peer's SystemMonitor, which samples every 15s
}

// LoadPeerConfig reads and validates a Peer YAML config.
func LoadPeerConfig(path string) (*PeerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading peer config: %w", err)
	}

	var cfg PeerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing peer config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating peer config: %w", err)
	}

	return &cfg, nil
}

func (c *PeerConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.DataPort <= 0 {
		return fmt.Errorf("data_port is required")
	}
	if c.CtrlPort <= 0 {
		c.CtrlPort = c.DataPort + 10000
	}
	if c.IP == "" {
		c.IP = "127.0.0.1"
	}
	if c.CoordinatorAddr == "" {
		return fmt.Errorf("coordinator_address is required")
	}
	if c.Playback.QueueSize <= 0 {
		c.Playback.QueueSize = DefaultPlaybackQueueSize
	}
	if c.Playback.FPS <= 0 {
		c.Playback.FPS = 24
	}
	if c.Playback.StatsEvery <= 0 {
		c.Playback.StatsEvery = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
