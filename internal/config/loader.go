package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

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
// defaults < config file < env vars
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

	// Apply env var overrides (Viper's Unmarshal doesn't properly merge
	// env vars for nested structs)
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

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
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "labflow"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "labflow"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix("LABFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues
	// without this)
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Server
	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	// Queue
	v.SetDefault("queue.poll_interval", cfg.Queue.PollInterval)
	v.SetDefault("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("queue.retry_base_delay", cfg.Queue.RetryBaseDelay)

	// Inventory
	v.SetDefault("inventory.cache_ttl", cfg.Inventory.CacheTTL)
	v.SetDefault("inventory.cache_max_size", cfg.Inventory.CacheMaxSize)

	// Scheduling
	v.SetDefault("scheduling.default_lab", cfg.Scheduling.DefaultLab)
	v.SetDefault("scheduling.workday_start_hour", cfg.Scheduling.WorkdayStartHour)
	v.SetDefault("scheduling.workday_end_hour", cfg.Scheduling.WorkdayEndHour)
	v.SetDefault("scheduling.slot_minutes", cfg.Scheduling.SlotMinutes)
	v.SetDefault("scheduling.horizon_days", cfg.Scheduling.HorizonDays)

	// Approval
	v.SetDefault("approval.auto_approve_max", cfg.Approval.AutoApproveMax)

	// Notify
	v.SetDefault("notify.procurement_address", cfg.Notify.ProcurementAddress)

	// Graph
	v.SetDefault("graph.base_url", cfg.Graph.BaseURL)
	v.SetDefault("graph.max_attempts", cfg.Graph.MaxAttempts)
	v.SetDefault("graph.retry_base_delay", cfg.Graph.RetryBaseDelay)
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

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless
// explicitly bound. This ensures LABFLOW_* env vars work correctly.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Global
		"global.data_dir",
		"global.config_dir",
		// Database
		"database.path",
		"database.max_connections",
		"database.busy_timeout_ms",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.enable_caller",
		// Server
		"server.listen_addr",
		"server.shutdown_timeout",
		// Queue
		"queue.poll_interval",
		"queue.max_attempts",
		"queue.retry_base_delay",
		// Inventory
		"inventory.cache_ttl",
		"inventory.cache_max_size",
		// Scheduling
		"scheduling.default_lab",
		"scheduling.workday_start_hour",
		"scheduling.workday_end_hour",
		"scheduling.slot_minutes",
		"scheduling.horizon_days",
		// Approval
		"approval.auto_approve_max",
		// Notify
		"notify.procurement_address",
		// Graph
		"graph.tenant_id",
		"graph.client_id",
		"graph.client_secret",
		"graph.base_url",
		"graph.sender",
		"graph.site_id",
		"graph.list_id",
		"graph.max_attempts",
		"graph.retry_base_delay",
	}

	for _, key := range envBindings {
		// database.path -> LABFLOW_DATABASE_PATH
		envVar := "LABFLOW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envVar)
	}
}

// applyEnvOverrides manually applies env var overrides to the config struct.
// This is needed because Viper's Unmarshal doesn't properly merge env vars
// for nested struct fields when a config file is present.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	// Database
	if path := v.GetString("database.path"); path != "" {
		cfg.Database.Path = path
	}

	// Global
	if dataDir := v.GetString("global.data_dir"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}
	if configDir := v.GetString("global.config_dir"); configDir != "" {
		cfg.Global.ConfigDir = configDir
	}

	// Logging
	if level := v.GetString("logging.level"); level != "" && level != "info" { // "info" is default
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" && format != "console" { // "console" is default
		cfg.Logging.Format = format
	}
	if file := v.GetString("logging.file"); file != "" {
		cfg.Logging.File = file
	}

	// Server
	if addr := v.GetString("server.listen_addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}

	// Graph credentials commonly arrive via the environment.
	if tenant := v.GetString("graph.tenant_id"); tenant != "" {
		cfg.Graph.TenantID = tenant
	}
	if client := v.GetString("graph.client_id"); client != "" {
		cfg.Graph.ClientID = client
	}
	if secret := v.GetString("graph.client_secret"); secret != "" {
		cfg.Graph.ClientSecret = secret
	}
	if sender := v.GetString("graph.sender"); sender != "" {
		cfg.Graph.Sender = sender
	}
	if site := v.GetString("graph.site_id"); site != "" {
		cfg.Graph.SiteID = site
	}
	if list := v.GetString("graph.list_id"); list != "" {
		cfg.Graph.ListID = list
	}
}
