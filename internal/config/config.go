// Package config handles leadsync configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tOgg1/leadsync/internal/models"
)

// Config is the root configuration structure for leadsync.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// API is the CRM collaborator API the sync engine polls.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Polling cadences
	Polling PollingConfig `yaml:"polling" mapstructure:"polling"`

	// Dedup windows used by message reconciliation
	Dedup DedupConfig `yaml:"dedup" mapstructure:"dedup"`

	// Scroll thresholds for the chat view
	Scroll ScrollConfig `yaml:"scroll" mapstructure:"scroll"`

	// Side panel lead cache
	SidePanel SidePanelConfig `yaml:"sidepanel" mapstructure:"sidepanel"`

	// Local state database
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// GlobalConfig contains global leadsync settings.
type GlobalConfig struct {
	// DataDir is where leadsync stores its data (default: ~/.local/share/leadsync).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/leadsync).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// APIConfig describes how to reach the CRM API.
type APIConfig struct {
	// BaseURL is the API root, e.g. https://crm.example.com/api.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Token is the session bearer token. Prefer LEADSYNC_API_TOKEN over the file.
	Token string `yaml:"token" mapstructure:"token"`

	// Instance restricts the contact list to one WhatsApp instance.
	Instance string `yaml:"instance" mapstructure:"instance"`

	// Timeout bounds every request.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	MessagePageSize int `yaml:"message_page_size" mapstructure:"message_page_size"`
	ContactPageSize int `yaml:"contact_page_size" mapstructure:"contact_page_size"`

	// RequestsPerSecond and Burst configure the outbound token bucket.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// TierConfig holds one cadence per resource class.
type TierConfig struct {
	Messages time.Duration `yaml:"messages" mapstructure:"messages"`
	Contacts time.Duration `yaml:"contacts" mapstructure:"contacts"`
	LeadData time.Duration `yaml:"lead_data" mapstructure:"lead_data"`
}

// Interval returns the cadence for a resource class.
func (t TierConfig) Interval(class models.ResourceClass) time.Duration {
	switch class {
	case models.ResourceContacts:
		return t.Contacts
	case models.ResourceLeadData:
		return t.LeadData
	default:
		return t.Messages
	}
}

// PollingConfig contains adaptive polling settings.
type PollingConfig struct {
	// ActiveWindow is how long after the last user activity the fast tier applies.
	ActiveWindow time.Duration `yaml:"active_window" mapstructure:"active_window"`

	Fast TierConfig `yaml:"fast" mapstructure:"fast"`
	Slow TierConfig `yaml:"slow" mapstructure:"slow"`
}

// DedupConfig contains reconciliation windows.
type DedupConfig struct {
	// TempWindow matches a server message to an optimistic one.
	TempWindow time.Duration `yaml:"temp_window" mapstructure:"temp_window"`

	// ServerWindow matches duplicate deliveries across overlapping polls.
	ServerWindow time.Duration `yaml:"server_window" mapstructure:"server_window"`
}

// ScrollConfig contains chat viewport thresholds (in rows for the terminal host).
type ScrollConfig struct {
	BottomThreshold int           `yaml:"bottom_threshold" mapstructure:"bottom_threshold"`
	TopTrigger      int           `yaml:"top_trigger" mapstructure:"top_trigger"`
	Debounce        time.Duration `yaml:"debounce" mapstructure:"debounce"`
	SettleDelay     time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
}

// SidePanelConfig contains lead cache settings.
type SidePanelConfig struct {
	CacheTTL  time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheSize int           `yaml:"cache_size" mapstructure:"cache_size"`
}

// StateConfig contains local state settings.
type StateConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "leadsync"),
			ConfigDir: filepath.Join(homeDir, ".config", "leadsync"),
		},
		API: APIConfig{
			BaseURL:           "http://localhost:3000/api",
			Timeout:           30 * time.Second,
			MessagePageSize:   50,
			ContactPageSize:   30,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Polling: PollingConfig{
			ActiveWindow: 5 * time.Minute,
			Fast: TierConfig{
				Messages: 15 * time.Second,
				Contacts: 60 * time.Second,
				LeadData: 90 * time.Second,
			},
			Slow: TierConfig{
				Messages: 60 * time.Second,
				Contacts: 300 * time.Second,
				LeadData: 300 * time.Second,
			},
		},
		Dedup: DedupConfig{
			TempWindow:   10 * time.Second,
			ServerWindow: 5 * time.Second,
		},
		Scroll: ScrollConfig{
			BottomThreshold: 1,
			TopTrigger:      2,
			Debounce:        10 * time.Millisecond,
			SettleDelay:     300 * time.Millisecond,
		},
		SidePanel: SidePanelConfig{
			CacheTTL:  90 * time.Second,
			CacheSize: 256,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validation := &models.ValidationErrors{}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		validation.AddMessage("api.base_url", "is required")
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		validation.AddMessage("api.base_url", "must start with http:// or https://")
	}
	if c.API.Timeout <= 0 {
		validation.AddMessage("api.timeout", "must be positive")
	}
	if c.API.MessagePageSize < 1 {
		validation.AddMessage("api.message_page_size", "must be at least 1")
	}
	if c.API.ContactPageSize < 1 {
		validation.AddMessage("api.contact_page_size", "must be at least 1")
	}
	if c.API.RequestsPerSecond <= 0 {
		validation.AddMessage("api.requests_per_second", "must be positive")
	}

	if c.Polling.ActiveWindow <= 0 {
		validation.AddMessage("polling.active_window", "must be positive")
	}
	for _, tier := range []struct {
		name string
		cfg  TierConfig
	}{{"polling.fast", c.Polling.Fast}, {"polling.slow", c.Polling.Slow}} {
		for _, class := range models.ResourceClasses {
			if tier.cfg.Interval(class) < time.Second {
				validation.AddMessage(fmt.Sprintf("%s.%s", tier.name, class), "must be at least 1s")
			}
		}
	}

	if c.Dedup.TempWindow <= 0 {
		validation.AddMessage("dedup.temp_window", "must be positive")
	}
	if c.Dedup.ServerWindow <= 0 {
		validation.AddMessage("dedup.server_window", "must be positive")
	}
	if c.Scroll.Debounce < 0 || c.Scroll.SettleDelay < 0 {
		validation.AddMessage("scroll", "durations must not be negative")
	}
	if c.SidePanel.CacheSize < 1 {
		validation.AddMessage("sidepanel.cache_size", "must be at least 1")
	}

	return validation.Err()
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// StatePath returns the full local state database path.
func (c *Config) StatePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return filepath.Join(c.Global.DataDir, "state.db")
}
