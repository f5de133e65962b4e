package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // timezone must resolve on hosts without zoneinfo

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"actwaste/internal/model"
)

const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultTimezone    = "Australia/Canberra"
	DefaultRefreshCron = "0 */6 * * *"
	DefaultMinRefresh  = "6h"
	DefaultTimeout     = "15s"
	DefaultBaseURL     = "https://www.data.act.gov.au"
	DefaultDataset     = "jzzy-44un"
	DefaultLogLevel    = "info"
)

// SourceConfig points at the open-data collection-schedule dataset.
type SourceConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	Dataset string `yaml:"dataset" json:"dataset"`
}

// RecurrenceConfig holds optional RRULEs used to project collections
// beyond the single date the dataset reports, e.g. "FREQ=WEEKLY" for
// garbage and "FREQ=WEEKLY;INTERVAL=2" for recycling.
type RecurrenceConfig struct {
	Garbage    string `yaml:"garbage,omitempty" json:"garbage,omitempty"`
	Recycling  string `yaml:"recycling,omitempty" json:"recycling,omitempty"`
	Greenwaste string `yaml:"greenwaste,omitempty" json:"greenwaste,omitempty"`
}

// Rules returns the non-empty rules keyed by stream.
func (r RecurrenceConfig) Rules() map[model.Stream]string {
	all := map[model.Stream]string{
		model.Garbage:    r.Garbage,
		model.Recycling:  r.Recycling,
		model.Greenwaste: r.Greenwaste,
	}
	return lo.PickBy(all, func(_ model.Stream, v string) bool { return v != "" })
}

// CollectionConfig is one suburb whose bins are tracked.
type CollectionConfig struct {
	// Name prefixes every sensor name, e.g. "Home" -> "Home Garbage Date".
	Name string `yaml:"name" json:"name"`
	// Suburb is the dataset query key; it is upper-cased on load.
	Suburb     string           `yaml:"suburb" json:"suburb"`
	Recurrence RecurrenceConfig `yaml:"recurrence,omitempty" json:"recurrence,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SnapshotConfig controls the optional PNG capture of the dashboard.
type SnapshotConfig struct {
	// Output is the PNG path; empty disables capturing.
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the dashboard and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone "today" is evaluated in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron spec on which sensors are polled.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MinRefreshInterval is how long a successful fetch stays fresh.
	MinRefreshInterval string `yaml:"min_refresh_interval" json:"min_refresh_interval"`

	// RequestTimeout bounds a single upstream request.
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Source SourceConfig `yaml:"source" json:"source"`

	Collections []CollectionConfig `yaml:"collections" json:"collections"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             DefaultListen,
		Timezone:           DefaultTimezone,
		RefreshCron:        DefaultRefreshCron,
		MinRefreshInterval: DefaultMinRefresh,
		RequestTimeout:     DefaultTimeout,
		LogLevel:           DefaultLogLevel,
		Source: SourceConfig{
			BaseURL: DefaultBaseURL,
			Dataset: DefaultDataset,
		},
		Collections: []CollectionConfig{
			{
				Name:   "Home",
				Suburb: "BRUCE",
			},
		},
		Snapshot: SnapshotConfig{
			Width:  800,
			Height: 480,
		},
	}
}

// Normalize fills in missing/zero values with defaults and canonicalizes
// suburbs and recurrence rules.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = DefaultRefreshCron
	}
	if c.MinRefreshInterval == "" {
		c.MinRefreshInterval = DefaultMinRefresh
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = DefaultBaseURL
	}
	if c.Source.Dataset == "" {
		c.Source.Dataset = DefaultDataset
	}
	if c.Collections == nil {
		c.Collections = []CollectionConfig{}
	}
	for i := range c.Collections {
		col := &c.Collections[i]
		col.Name = strings.TrimSpace(col.Name)
		col.Suburb = strings.ToUpper(strings.TrimSpace(col.Suburb))
		col.Recurrence.Garbage = normalizeRule(col.Recurrence.Garbage)
		col.Recurrence.Recycling = normalizeRule(col.Recurrence.Recycling)
		col.Recurrence.Greenwaste = normalizeRule(col.Recurrence.Greenwaste)
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = 800
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = 480
	}
}

func normalizeRule(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	return strings.ToUpper(s)
}

// Validate reports the first problem that would keep the service from
// running with this configuration.
func (c *Config) Validate() error {
	if len(c.Collections) == 0 {
		return errors.New("at least one collection is required")
	}
	seen := map[string]bool{}
	for i, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("collection %d: name is required", i)
		}
		if col.Suburb == "" {
			return fmt.Errorf("collection %q: suburb is required", col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("collection %q: duplicate name", col.Name)
		}
		seen[col.Name] = true
	}
	if _, err := c.MinRefresh(); err != nil {
		return err
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// MinRefresh parses MinRefreshInterval.
func (c *Config) MinRefresh() (time.Duration, error) {
	return parsePositiveDuration("min_refresh_interval", c.MinRefreshInterval)
}

// Timeout parses RequestTimeout.
func (c *Config) Timeout() (time.Duration, error) {
	return parsePositiveDuration("request_timeout", c.RequestTimeout)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func parsePositiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, s)
	}
	return d, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
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
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".actwaste-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
