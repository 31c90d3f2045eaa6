// Package config handles weekly plan companion configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Server
	Server ServerConfig `json:"server" yaml:"server"`

	// Engines
	Storage       StorageConfig      `json:"storage" yaml:"storage"`
	Cache         CacheConfig        `json:"cache" yaml:"cache"`
	Memory        MemoryConfig       `json:"memory" yaml:"memory"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`

	// Remote weekly plan backend
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`
	// AllowedOrigins are the browser origins permitted to use the API and
	// the notification bridge.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"` // sqlite, badger or memory
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// CacheConfig for the TTL cache
type CacheConfig struct {
	TTL      Duration `json:"ttl" yaml:"ttl"`
	Coalesce bool     `json:"coalesce" yaml:"coalesce"`
}

// MemoryConfig for the behavioral memory engine
type MemoryConfig struct {
	StorageKey string `json:"storage_key" yaml:"storage_key"`
}

// NotificationConfig for the notification engine and its timers
type NotificationConfig struct {
	CheckInterval    Duration `json:"check_interval" yaml:"check_interval"`
	DueWarningDay    string   `json:"due_warning_day" yaml:"due_warning_day"`
	ReviewReminderAt string   `json:"review_reminder_at" yaml:"review_reminder_at"`
	TeamReviewAt     string   `json:"team_review_at" yaml:"team_review_at"`
	TeamReviews      bool     `json:"team_reviews" yaml:"team_reviews"`
	Timezone         string   `json:"timezone" yaml:"timezone"`
}

// UpstreamConfig for the remote API
type UpstreamConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Token   string   `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// Duration is a time.Duration that reads and writes as "5m", "30s", ...
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or nanoseconds: %s", b)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir:  filepath.Join(home, ".weeklyplan"),
		LogLevel: "info",
		Server: ServerConfig{
			Port:           8080,
			Host:           "localhost",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Cache: CacheConfig{
			TTL: Duration(5 * time.Minute),
		},
		Memory: MemoryConfig{
			StorageKey: "weekly_plan_memory",
		},
		Notifications: NotificationConfig{
			CheckInterval:    Duration(5 * time.Minute),
			DueWarningDay:    "friday",
			ReviewReminderAt: "17:00",
			TeamReviewAt:     "09:00",
			Timezone:         "Local",
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: Duration(15 * time.Second),
		},
	}
}

// Load loads config from a JSON or YAML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if token := os.Getenv("WEEKLYPLAN_API_TOKEN"); token != "" {
		c.Upstream.Token = token
	}
	if url := os.Getenv("WEEKLYPLAN_API_URL"); url != "" {
		c.Upstream.BaseURL = url
	}
	if level := os.Getenv("WEEKLYPLAN_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("server.allowed_origins must list explicit origins, not *")
		}
	}
	switch c.Storage.Backend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be sqlite, badger or memory, got %q", c.Storage.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Notifications.CheckInterval <= 0 {
		return fmt.Errorf("notifications.check_interval must be positive")
	}
	if _, err := c.Notifications.Weekday(); err != nil {
		return err
	}
	if c.Memory.StorageKey == "" {
		return fmt.Errorf("memory.storage_key is required")
	}
	return nil
}

// StoragePath returns the configured storage path or a backend default under DataDir.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == "badger" {
		return filepath.Join(c.DataDir, "badger")
	}
	return filepath.Join(c.DataDir, "weeklyplan.db")
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Weekday parses DueWarningDay.
func (n NotificationConfig) Weekday() (time.Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(n.DueWarningDay))]
	if !ok {
		return time.Friday, fmt.Errorf("notifications.due_warning_day: unknown weekday %q", n.DueWarningDay)
	}
	return day, nil
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save the API token to file
	safeCfg := *c
	safeCfg.Upstream.Token = ""

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(safeCfg)
	default:
		data, err = json.MarshalIndent(safeCfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
