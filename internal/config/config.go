package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig selects the log level and an optional rotated file sink.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Dir enables a JSON log file under this directory when non-empty.
	Dir string `yaml:"dir" json:"dir"`
}

// AlarmConfig tunes the trigger loop.
type AlarmConfig struct {
	// PollInterval is the evaluation tick period.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// FiringWindow is how long after its target instant an alarm may still fire.
	FiringWindow time.Duration `yaml:"firing_window" json:"firing_window"`
	// RingTimeout is how long the ringing slot stays set without a dismiss.
	// It is a separate setting from FiringWindow even though both default to 5s.
	RingTimeout time.Duration `yaml:"ring_timeout" json:"ring_timeout"`
}

// SoundConfig controls the audible cue.
type SoundConfig struct {
	// Muted turns the cue off for every alarm.
	Muted bool `yaml:"muted" json:"muted"`
	// Command is an external player invocation (e.g. "paplay /usr/share/sounds/bell.oga").
	// Empty means a terminal bell on stderr.
	Command string `yaml:"command" json:"command"`
}

// NotifyConfig controls system notification delivery.
type NotifyConfig struct {
	// WebhookURL is a Slack-compatible incoming webhook. Empty disables it.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`
	// RatePerSec caps outbound notification sends.
	RatePerSec int `yaml:"rate_per_sec" json:"rate_per_sec"`
	// QueueSize is the dispatcher buffer length.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
	// Disabled denies notification permission for the whole session.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// ScheduleConfig holds defaults for generated scheduled posts.
type ScheduleConfig struct {
	// DefaultTime is the HH:MM time-of-day used when a request omits one.
	DefaultTime string   `yaml:"default_time" json:"default_time"`
	Platforms   []string `yaml:"platforms" json:"platforms"`
}

// ImportConfig controls calendar (ICS) import.
type ImportConfig struct {
	// CacheDir stores fetched calendars for conditional requests. Empty
	// disables the cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// Horizon limits how far recurring events are expanded.
	Horizon time.Duration `yaml:"horizon" json:"horizon"`
	// MaxPerEvent caps the posts a single recurring event can produce.
	MaxPerEvent int `yaml:"max_per_event" json:"max_per_event"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for dates without an explicit zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "@every 30s")
	// used to reload the alarm snapshot from the store.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DatabasePath selects the sqlite store. Empty keeps everything in memory.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Alarm    AlarmConfig    `yaml:"alarm" json:"alarm"`
	Sound    SoundConfig    `yaml:"sound" json:"sound"`
	Notify   NotifyConfig   `yaml:"notify" json:"notify"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Import   ImportConfig   `yaml:"import" json:"import"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultRefreshCron  = "@every 30s"
	defaultPollInterval = time.Second
	defaultFiringWindow = 5 * time.Second
	defaultRingTimeout  = 5 * time.Second
	defaultRatePerSec   = 2
	defaultQueueSize    = 64
	defaultPostTime     = "12:00"
	defaultHorizon      = 365 * 24 * time.Hour
	defaultMaxPerEvent  = 500
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Alarm.PollInterval <= 0 {
		c.Alarm.PollInterval = defaultPollInterval
	}
	if c.Alarm.FiringWindow <= 0 {
		c.Alarm.FiringWindow = defaultFiringWindow
	}
	if c.Alarm.RingTimeout <= 0 {
		c.Alarm.RingTimeout = defaultRingTimeout
	}

	if c.Notify.RatePerSec <= 0 {
		c.Notify.RatePerSec = defaultRatePerSec
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = defaultQueueSize
	}

	if c.Schedule.DefaultTime == "" {
		c.Schedule.DefaultTime = defaultPostTime
	}
	if len(c.Schedule.Platforms) == 0 {
		c.Schedule.Platforms = []string{"instagram"}
	}

	if c.Import.Horizon <= 0 {
		c.Import.Horizon = defaultHorizon
	}
	if c.Import.MaxPerEvent <= 0 {
		c.Import.MaxPerEvent = defaultMaxPerEvent
	}
}

// Location resolves Timezone, falling back to UTC on unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".postcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
