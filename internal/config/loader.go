package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEADSYNC_API_BASE_URL.
const EnvPrefix = "LEADSYNC"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.State.Path = expandTilde(cfg.State.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "leadsync"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "leadsync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// API
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.token", cfg.API.Token)
	v.SetDefault("api.instance", cfg.API.Instance)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.message_page_size", cfg.API.MessagePageSize)
	v.SetDefault("api.contact_page_size", cfg.API.ContactPageSize)
	v.SetDefault("api.requests_per_second", cfg.API.RequestsPerSecond)
	v.SetDefault("api.burst", cfg.API.Burst)

	// Polling
	v.SetDefault("polling.active_window", cfg.Polling.ActiveWindow)
	v.SetDefault("polling.fast.messages", cfg.Polling.Fast.Messages)
	v.SetDefault("polling.fast.contacts", cfg.Polling.Fast.Contacts)
	v.SetDefault("polling.fast.lead_data", cfg.Polling.Fast.LeadData)
	v.SetDefault("polling.slow.messages", cfg.Polling.Slow.Messages)
	v.SetDefault("polling.slow.contacts", cfg.Polling.Slow.Contacts)
	v.SetDefault("polling.slow.lead_data", cfg.Polling.Slow.LeadData)

	// Dedup
	v.SetDefault("dedup.temp_window", cfg.Dedup.TempWindow)
	v.SetDefault("dedup.server_window", cfg.Dedup.ServerWindow)

	// Scroll
	v.SetDefault("scroll.bottom_threshold", cfg.Scroll.BottomThreshold)
	v.SetDefault("scroll.top_trigger", cfg.Scroll.TopTrigger)
	v.SetDefault("scroll.debounce", cfg.Scroll.Debounce)
	v.SetDefault("scroll.settle_delay", cfg.Scroll.SettleDelay)

	// Side panel
	v.SetDefault("sidepanel.cache_ttl", cfg.SidePanel.CacheTTL)
	v.SetDefault("sidepanel.cache_size", cfg.SidePanel.CacheSize)

	// State
	v.SetDefault("state.path", cfg.State.Path)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. CLI flag overrides go through here.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Viper returns the underlying Viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// envBindings lists every key that supports a LEADSYNC_* override.
var envBindings = []string{
	"global.data_dir",
	"global.config_dir",
	"api.base_url",
	"api.token",
	"api.instance",
	"api.timeout",
	"api.message_page_size",
	"api.contact_page_size",
	"api.requests_per_second",
	"api.burst",
	"polling.active_window",
	"polling.fast.messages",
	"polling.fast.contacts",
	"polling.fast.lead_data",
	"polling.slow.messages",
	"polling.slow.contacts",
	"polling.slow.lead_data",
	"dedup.temp_window",
	"dedup.server_window",
	"scroll.bottom_threshold",
	"scroll.top_trigger",
	"scroll.debounce",
	"scroll.settle_delay",
	"sidepanel.cache_ttl",
	"sidepanel.cache_size",
	"state.path",
	"logging.level",
	"logging.format",
	"logging.file",
	"logging.enable_caller",
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless explicitly bound.
func bindEnvVars(v *viper.Viper) {
	for _, key := range envBindings {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey)
	}
}
