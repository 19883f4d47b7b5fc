package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for a freshly created config file.
const (
	DefaultListen             = "127.0.0.1:8080"
	DefaultTimezone           = "UTC"
	DefaultCacheSeconds       = 300
	MinCacheSeconds           = 60
	DefaultOpeningHoursStart  = "09:00"
	DefaultOpeningHoursEnd    = "17:00"
	DefaultMinFreeMinutes     = 120
	DefaultMaxRangeDays       = 90
	DefaultRateLimitPerMinute = 30
	DefaultFetchTimeoutSec    = 15
	DefaultSweep              = "@every 1m"
	DefaultLogLevel           = "info"
)

// Environment variables that override file values. They are read after
// the optional .env file has been loaded.
const (
	EnvICalURL  = "AVAILCAL_ICAL_URL"
	EnvListen   = "AVAILCAL_LISTEN"
	EnvTimezone = "AVAILCAL_TIMEZONE"
	EnvLogLevel = "AVAILCAL_LOG_LEVEL"
)

var hhmmPattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// BasicAuthConfig holds HTTP Basic Auth credentials for operator endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the availability API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA business timezone. Floating times, all-day dates,
	// opening hours and day boundaries are all interpreted in it.
	Timezone string `yaml:"timezone" json:"timezone"`

	// ICalURL is the secret ICS feed. Empty means "not configured".
	ICalURL string `yaml:"ical_url" json:"ical_url"`

	// CacheSeconds is the feed cache TTL. Values below 60 are raised to 60.
	CacheSeconds int `yaml:"cache_seconds" json:"cache_seconds"`

	// OpeningHoursStart / OpeningHoursEnd are HH:MM times of day.
	OpeningHoursStart string `yaml:"opening_hours_start" json:"opening_hours_start"`
	OpeningHoursEnd   string `yaml:"opening_hours_end" json:"opening_hours_end"`

	// MinFreeMinutes is the shortest free gap that makes a day available.
	MinFreeMinutes int `yaml:"min_free_minutes" json:"min_free_minutes"`

	// MaxRangeDays caps end - start of a request.
	MaxRangeDays int `yaml:"max_range_days" json:"max_range_days"`

	// RateLimitPerMinute is the number of admitted requests per caller per minute.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`

	// FetchTimeoutSeconds bounds a single upstream feed fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// Sweep is a cron spec (e.g. "@every 1m") for dropping expired
	// cache and rate-limit entries.
	Sweep string `yaml:"sweep" json:"sweep"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, protects operator endpoints (cache clear, metrics).
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              DefaultListen,
		Timezone:            DefaultTimezone,
		ICalURL:             "",
		CacheSeconds:        DefaultCacheSeconds,
		OpeningHoursStart:   DefaultOpeningHoursStart,
		OpeningHoursEnd:     DefaultOpeningHoursEnd,
		MinFreeMinutes:      DefaultMinFreeMinutes,
		MaxRangeDays:        DefaultMaxRangeDays,
		RateLimitPerMinute:  DefaultRateLimitPerMinute,
		FetchTimeoutSeconds: DefaultFetchTimeoutSec,
		Sweep:               DefaultSweep,
		LogLevel:            DefaultLogLevel,
		BasicAuth:           nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	c.ICalURL = strings.TrimSpace(c.ICalURL)

	if c.CacheSeconds == 0 {
		c.CacheSeconds = DefaultCacheSeconds
	}
	if c.CacheSeconds < MinCacheSeconds {
		c.CacheSeconds = MinCacheSeconds
	}

	if !hhmmPattern.MatchString(c.OpeningHoursStart) {
		c.OpeningHoursStart = DefaultOpeningHoursStart
	}
	if !hhmmPattern.MatchString(c.OpeningHoursEnd) {
		c.OpeningHoursEnd = DefaultOpeningHoursEnd
	}

	if c.MinFreeMinutes <= 0 {
		c.MinFreeMinutes = DefaultMinFreeMinutes
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = DefaultMaxRangeDays
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeoutSec
	}
	if c.Sweep == "" {
		c.Sweep = DefaultSweep
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// ApplyEnv overrides file values with AVAILCAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvICalURL); v != "" {
		c.ICalURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// CacheTTL returns the feed cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheSeconds) * time.Second
}

// FetchTimeout returns the upstream fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// MinFreeGap returns the minimum free gap as a duration.
func (c *Config) MinFreeGap() time.Duration {
	return time.Duration(c.MinFreeMinutes) * time.Minute
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// OpeningHours returns the configured opening hours as offsets from
// midnight.
func (c *Config) OpeningHours() (start, end time.Duration, err error) {
	start, err = ParseClock(c.OpeningHoursStart)
	if err != nil {
		return 0, 0, err
	}
	end, err = ParseClock(c.OpeningHoursEnd)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseClock parses an HH:MM time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	if !hhmmPattern.MatchString(s) {
		return 0, fmt.Errorf("config: invalid time of day %q (want HH:MM)", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("config: invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
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
//
// Environment overrides are not applied here; see ApplyEnv.
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
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
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
//   - Ensures final file permissions are 0600, since ical_url is a secret.
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

	tmp, err := os.CreateTemp(dir, ".availcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
