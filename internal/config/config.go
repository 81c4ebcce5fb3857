// Package config loads the RTSP server's externalized YAML configuration,
// adapted from ssungk-sol's internal/sol/config.go loader/validate/
// GetSlogLevel shape.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RTSP    RTSPConfig    `yaml:"rtsp"`
	Logging LoggingConfig `yaml:"logging"`
	Media   MediaConfig   `yaml:"media"`
}

type RTSPConfig struct {
	Port          int    `yaml:"port"`
	SessionName   string `yaml:"session_name"`
	SSRCSeed      uint32 `yaml:"ssrc_seed"`
	KeepaliveSecs int    `yaml:"keepalive_seconds"`
	AuthUser      string `yaml:"auth_user"`
	AuthPass      string `yaml:"auth_pass"`
	AuthDigest    bool   `yaml:"auth_digest"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MediaConfig struct {
	VideoCodec string `yaml:"video_codec"`
	AudioAAC   bool   `yaml:"audio_aac"`
	SampleRate int    `yaml:"aac_sample_rate"`
	Channels   int    `yaml:"aac_channels"`
}

// Load reads configuration from configs/default.yaml relative to the
// process working directory.
func Load() (*Config, error) {
	configPath := filepath.Join("configs", "default.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RTSP.Port <= 0 || c.RTSP.Port > 65535 {
		return fmt.Errorf("invalid rtsp port: %d (must be between 1-65535)", c.RTSP.Port)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	switch strings.ToUpper(c.Media.VideoCodec) {
	case "H264", "H265":
	default:
		return fmt.Errorf("invalid video codec: %s (must be H264 or H265)", c.Media.VideoCodec)
	}

	if c.RTSP.KeepaliveSecs <= 0 {
		return fmt.Errorf("invalid keepalive_seconds: %d (must be positive)", c.RTSP.KeepaliveSecs)
	}

	if c.Media.AudioAAC {
		if c.Media.SampleRate <= 0 {
			return fmt.Errorf("invalid aac_sample_rate: %d (must be positive)", c.Media.SampleRate)
		}
		if c.Media.Channels <= 0 {
			return fmt.Errorf("invalid aac_channels: %d (must be positive)", c.Media.Channels)
		}
	}

	return nil
}

// GetSlogLevel returns the slog.Level corresponding to the configured
// logging level.
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
