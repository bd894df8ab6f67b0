// Package config loads, validates and persists the overlay configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"sc2overlay/internal/data"
	"sc2overlay/internal/sc2"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "config.yaml"

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration file not found")
)

// Config is the on-disk configuration
type Config struct {
	Player    PlayerConfig           `yaml:"player" toml:"player" json:"player"`
	SC2Client SC2ClientConfig        `yaml:"sc2_client" toml:"sc2_client" json:"sc2_client"`
	Server    ServerConfig           `yaml:"server" toml:"server" json:"server"`
	Storage   StorageConfig          `yaml:"storage" toml:"storage" json:"storage"`
	Stats     StatsConfig            `yaml:"stats" toml:"stats" json:"stats"`
	Stream    StreamConfig           `yaml:"stream" toml:"stream" json:"stream"`
	Overlay   map[string]interface{} `yaml:"overlay,omitempty" toml:"overlay,omitempty" json:"overlay,omitempty"`
}

type PlayerConfig struct {
	ID         string `yaml:"id,omitempty" toml:"id,omitempty" json:"id,omitempty"`
	Name       string `yaml:"name" toml:"name" json:"name"`
	ExactMatch bool   `yaml:"exact_match" toml:"exact_match" json:"exact_match"`
}

// SC2ClientConfig locates the game client API. Intervals are milliseconds.
type SC2ClientConfig struct {
	APIURL         string `yaml:"api_url" toml:"api_url" json:"api_url"`
	PollInterval   int    `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`
	RetryInterval  int    `yaml:"retry_interval" toml:"retry_interval" json:"retry_interval"`
	RequestTimeout int    `yaml:"request_timeout" toml:"request_timeout" json:"request_timeout"`
	Cooldown       int    `yaml:"cooldown" toml:"cooldown" json:"cooldown"`
}

type ServerConfig struct {
	Port int `yaml:"port" toml:"port" json:"port"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver" toml:"driver" json:"driver"`
	DatabasePath string `yaml:"database_path" toml:"database_path" json:"database_path"`
	DatabaseURL  string `yaml:"database_url,omitempty" toml:"database_url,omitempty" json:"database_url,omitempty"`
	// Required makes a storage failure at startup fatal instead of falling
	// back to memory-only statistics
	Required bool `yaml:"required" toml:"required" json:"required"`
}

// StreamConfig points at the streaming channel counters. UpdateInterval is
// milliseconds.
type StreamConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	CountersURL    string `yaml:"counters_url,omitempty" toml:"counters_url,omitempty" json:"counters_url,omitempty"`
	UpdateInterval int    `yaml:"update_interval" toml:"update_interval" json:"update_interval"`
}

func (c StreamConfig) UpdateEvery() time.Duration { return ms(c.UpdateInterval) }

type StatsConfig struct {
	TimeFilter TimeFilterConfig `yaml:"time_filter" toml:"time_filter" json:"time_filter"`
}

type TimeFilterConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Type      string `yaml:"type,omitempty" toml:"type,omitempty" json:"type,omitempty"`
	Value     int    `yaml:"value,omitempty" toml:"value,omitempty" json:"value,omitempty"`
	StartDate string `yaml:"start_date,omitempty" toml:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate   string `yaml:"end_date,omitempty" toml:"end_date,omitempty" json:"end_date,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Player: PlayerConfig{ExactMatch: true},
		SC2Client: SC2ClientConfig{
			APIURL:         sc2.DefaultBaseURL,
			PollInterval:   1000,
			RetryInterval:  5000,
			RequestTimeout: 2000,
			Cooldown:       500,
		},
		Server: ServerConfig{Port: 3000},
		Stream: StreamConfig{UpdateInterval: 60000},
		Storage: StorageConfig{
			Driver:       data.DriverSQLite,
			DatabasePath: "./data/sc2stats.db",
		},
	}
}

func (c SC2ClientConfig) PollEvery() time.Duration { return ms(c.PollInterval) }
func (c SC2ClientConfig) RetryEvery() time.Duration { return ms(c.RetryInterval) }
func (c SC2ClientConfig) Timeout() time.Duration    { return ms(c.RequestTimeout) }
func (c SC2ClientConfig) CooldownWindow() time.Duration {
	return ms(c.Cooldown)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// LoadDotEnv loads the first .env found next to the config or in the
// working directory. Existing environment variables win.
func LoadDotEnv(dir string) string {
	for _, path := range []string{filepath.Join(dir, ".env"), ".env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads path, applies environment overrides and normalizes the result.
// A missing file is created from <path>.example when one exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if envPath := LoadDotEnv(filepath.Dir(path)); envPath != "" {
		log.Debug().Str("path", envPath).Msg("Loaded .env")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := copyFile(path+".example", path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		log.Info().Str("path", path).Msg("Created config from example")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := decode(path, raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.normalize(filepath.Dir(path))
	return cfg, nil
}

func decode(path string, raw []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(raw, cfg)
	}
	return yaml.Unmarshal(raw, cfg)
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(cfg)
	}
	return yaml.Marshal(cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SC2_API_URL"); v != "" {
		c.SC2Client.APIURL = v
	}
	if v := os.Getenv("SC2_PLAYER_NAME"); v != "" {
		c.Player.Name = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		} else {
			log.Warn().Str("SERVER_PORT", v).Msg("Ignoring non-numeric SERVER_PORT")
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = v
	}
}

// normalize rewrites loopback aliases and anchors relative storage paths at
// the config directory
func (c *Config) normalize(baseDir string) {
	c.Player.Name = strings.TrimSpace(c.Player.Name)
	if c.SC2Client.APIURL != "" {
		c.SC2Client.APIURL = sc2.NormalizeBaseURL(c.SC2Client.APIURL)
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = data.DriverSQLite
	}
	p := c.Storage.DatabasePath
	if p != "" && p != data.MemoryPath && !filepath.IsAbs(p) && baseDir != "" {
		c.Storage.DatabasePath = filepath.Join(baseDir, p)
	}
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration. The returned error is a
// *ValidationError wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Player.Name) == "" {
		problems = append(problems, "player.name is required")
	}
	if c.SC2Client.APIURL == "" {
		problems = append(problems, "sc2_client.api_url is required")
	} else if u, err := url.Parse(c.SC2Client.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("sc2_client.api_url %q is not a valid URL", c.SC2Client.APIURL))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	for name, v := range map[string]int{
		"sc2_client.poll_interval":   c.SC2Client.PollInterval,
		"sc2_client.retry_interval":  c.SC2Client.RetryInterval,
		"sc2_client.request_timeout": c.SC2Client.RequestTimeout,
	} {
		if v <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.SC2Client.Cooldown < 0 {
		problems = append(problems, "sc2_client.cooldown must not be negative")
	}

	switch c.Storage.Driver {
	case data.DriverSQLite, "":
		if c.Storage.DatabasePath == "" {
			problems = append(problems, "storage.database_path is required for sqlite")
		}
	case data.DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for postgres")
		}
	case data.DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver))
	}

	if c.Stream.Enabled {
		if u, err := url.Parse(c.Stream.CountersURL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("stream.counters_url %q is not a valid URL", c.Stream.CountersURL))
		}
		if c.Stream.UpdateInterval <= 0 {
			problems = append(problems, "stream.update_interval must be positive")
		}
	}

	if tf := c.Stats.TimeFilter; tf.Enabled {
		if _, err := data.ParseFilterKind(tf.Type); err != nil {
			problems = append(problems, "stats.time_filter: "+err.Error())
		}
		if _, err := parseDate(tf.StartDate); err != nil {
			problems = append(problems, "stats.time_filter.start_date: "+err.Error())
		}
		if _, err := parseDate(tf.EndDate); err != nil {
			problems = append(problems, "stats.time_filter.end_date: "+err.Error())
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return &ValidationError{Problems: problems}
}

// Warnings reports settings that are legal but probably unintended
func (c *Config) Warnings() []string {
	var warnings []string
	tf := c.Stats.TimeFilter
	if tf.Enabled {
		switch data.FilterKind(tf.Type) {
		case data.FilterLastDays, data.FilterLastHours:
			if tf.Value <= 0 {
				warnings = append(warnings, "stats.time_filter.value must be positive, the filter is ignored")
			}
		case data.FilterCustomPeriod:
			if tf.StartDate == "" || tf.EndDate == "" {
				warnings = append(warnings, "stats.time_filter custom_period needs start_date and end_date, the filter is ignored")
			}
		}
	}
	if !c.Player.ExactMatch {
		warnings = append(warnings, "player.exact_match is off, partial name matches may pick the wrong player")
	}
	if c.Storage.Driver == data.DriverMemory {
		warnings = append(warnings, "storage.driver memory keeps no history across restarts")
	}
	return warnings
}

// FilterSpec returns the configured time filter, or false when disabled
func (c *Config) FilterSpec() (data.FilterSpec, bool) {
	tf := c.Stats.TimeFilter
	if !tf.Enabled {
		return data.FilterSpec{}, false
	}
	kind, err := data.ParseFilterKind(tf.Type)
	if err != nil {
		return data.FilterSpec{}, false
	}
	switch kind {
	case data.FilterLastDays:
		return data.LastDays(tf.Value), true
	case data.FilterLastHours:
		return data.LastHours(tf.Value), true
	case data.FilterSessionOnly:
		return data.SessionOnly(), true
	default:
		start, _ := parseDate(tf.StartDate)
		end, _ := parseDate(tf.EndDate)
		return data.CustomPeriod(start, end), true
	}
}

// TimeFilter resolves the configured filter at now, nil when none applies
func (c *Config) TimeFilter(now time.Time) *data.TimeFilter {
	spec, ok := c.FilterSpec()
	if !ok {
		return nil
	}
	return spec.Resolve(now)
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Redacted returns a copy safe to hand to clients
func (c *Config) Redacted() *Config {
	cp := c.Clone()
	if cp.Storage.DatabaseURL != "" {
		cp.Storage.DatabaseURL = redactURL(cp.Storage.DatabaseURL)
	}
	return cp
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return "********"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// ClientView is the subset of the configuration overlays read
func (c *Config) ClientView() map[string]interface{} {
	overlay := make(map[string]interface{}, len(c.Overlay)+1)
	for k, v := range c.Overlay {
		overlay[k] = v
	}
	if _, ok := overlay["bg_opacity"]; !ok {
		overlay["bg_opacity"] = 0.95
	}
	return map[string]interface{}{
		"overlay": overlay,
		"player": map[string]string{
			"id":   c.Player.ID,
			"name": c.Player.Name,
		},
		"stats": c.Stats,
	}
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	cp := *c
	if c.Overlay != nil {
		cp.Overlay = make(map[string]interface{}, len(c.Overlay))
		for k, v := range c.Overlay {
			cp.Overlay[k] = v
		}
	}
	return &cp
}

// Save writes cfg to path, keeping the previous file as <path>.backup
func Save(path string, cfg *Config) error {
	out, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			return fmt.Errorf("failed to back up config: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Store holds the live configuration and the file it came from
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore wraps an already loaded configuration
func NewStore(path string, cfg *Config) *Store {
	return &Store{path: path, cfg: cfg}
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current configuration
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Reload re-reads the backing file. An invalid file leaves the current
// configuration in place.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg.Clone(), nil
}

// Save validates cfg, writes it to the backing file and makes it current.
// A redacted database_url sent back by a client keeps the stored secret.
func (s *Store) Save(cfg *Config) error {
	cfg = cfg.Clone()
	s.mu.RLock()
	current := s.cfg.Storage.DatabaseURL
	s.mu.RUnlock()
	if current != "" && cfg.Storage.DatabaseURL == redactURL(current) {
		cfg.Storage.DatabaseURL = current
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := Save(s.path, cfg); err != nil {
		return err
	}

	live := cfg.Clone()
	live.normalize(filepath.Dir(s.path))
	s.mu.Lock()
	s.cfg = live
	s.mu.Unlock()
	return nil
}
