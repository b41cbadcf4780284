// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Media     MediaConfig     `yaml:"media"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Engine    EngineConfig    `yaml:"engine"`
	Triggers  []TriggerConfig `yaml:"triggers"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Log       LogConfig       `yaml:"log"`
}

// MediaConfig represents the media library configuration.
type MediaConfig struct {
	Root      string `yaml:"root" default:"/media/cuebeam" validate:"required"`
	IdleOrder string `yaml:"idle_order" default:"shuffle" validate:"oneof=shuffle sequential"`
}

// PlaybackConfig represents playback timing configuration.
type PlaybackConfig struct {
	IdleToRandomSec   int    `yaml:"idle_to_random_sec" default:"60" validate:"gte=0"`
	RandomWindowSec   int    `yaml:"random_window_sec" default:"0" validate:"gte=0"`
	HeartbeatSec      int    `yaml:"heartbeat_sec" default:"30" validate:"gte=0,lte=3600"`
	DailyShutdownTime string `yaml:"daily_shutdown_time"` // "HH:MM", empty disables
}

// EngineConfig represents media engine configuration.
type EngineConfig struct {
	Binary      string   `yaml:"binary" default:"mpv"`
	Socket      string   `yaml:"socket" default:"/tmp/cuebeam-mpv.sock"`
	Flags       []string `yaml:"flags"`
	AudioDevice string   `yaml:"audio_device"`
	RestartMax  int      `yaml:"restart_max" default:"3" validate:"gte=0,lte=20"`
}

// TriggerConfig represents a single trigger source configuration.
type TriggerConfig struct {
	Type     string         `yaml:"type" validate:"required"`
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// BluetoothConfig represents the Bluetooth speaker configuration.
type BluetoothConfig struct {
	PreferredMAC string `yaml:"preferred_mac" validate:"omitempty,mac"`
	ScanSec      int    `yaml:"scan_sec" default:"10" validate:"gte=1,lte=120"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout" validate:"oneof=stdout stderr file"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	File   string `yaml:"file"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("CUEBEAM_MEDIA_ROOT"); v != "" {
		c.Media.Root = v
	}
	if v := os.Getenv("CUEBEAM_BT_MAC"); v != "" {
		c.Bluetooth.PreferredMAC = v
	}
	if v := os.Getenv("CUEBEAM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Log.Output == "file" && c.Log.File == "" {
		return errors.New("log.output is \"file\" but log.file is empty")
	}

	if _, _, err := c.ParseDailyShutdown(); err != nil {
		return err
	}
	return nil
}

// ParseDailyShutdown parses the daily shutdown wall-clock time. The second
// return value is false when no shutdown time is configured.
func (c *Config) ParseDailyShutdown() (time.Time, bool, error) {
	if c.Playback.DailyShutdownTime == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse("15:04", c.Playback.DailyShutdownTime)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "daily_shutdown_time %q is not HH:MM", c.Playback.DailyShutdownTime)
	}
	return t, true, nil
}
