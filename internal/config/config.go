// Package config handles labflow configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for labflow.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Server settings for the daemon's HTTP API
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Queue settings for the task worker
	Queue QueueConfig `yaml:"queue" mapstructure:"queue"`

	// Inventory settings
	Inventory InventoryConfig `yaml:"inventory" mapstructure:"inventory"`

	// Scheduling settings
	Scheduling SchedulingConfig `yaml:"scheduling" mapstructure:"scheduling"`

	// Approval settings
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Notify settings
	Notify NotifyConfig `yaml:"notify" mapstructure:"notify"`

	// Graph settings for the Microsoft Graph / SharePoint adapters
	Graph GraphConfig `yaml:"graph" mapstructure:"graph"`
}

// GlobalConfig contains global labflow settings.
type GlobalConfig struct {
	// DataDir is where labflow stores its data (default: ~/.local/share/labflow).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/labflow).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
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

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	// ListenAddr is the daemon's bind address.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// QueueConfig contains task worker settings.
type QueueConfig struct {
	// PollInterval is how often the worker checks for due tasks.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// MaxAttempts is the maximum executions per task.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// RetryBaseDelay is the backoff after the first failure.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
}

// InventoryConfig contains inventory check settings.
type InventoryConfig struct {
	// CacheTTL is how long inventory results stay cached.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// CacheMaxSize bounds the number of cached material sets.
	CacheMaxSize int `yaml:"cache_max_size" mapstructure:"cache_max_size"`
}

// SchedulingConfig contains lab scheduling settings.
type SchedulingConfig struct {
	// Labs maps lab names to calendar ids.
	Labs map[string]string `yaml:"labs" mapstructure:"labs"`

	// DefaultLab is used when a request names no lab.
	DefaultLab string `yaml:"default_lab" mapstructure:"default_lab"`

	// WorkdayStartHour is the first bookable time, in fractional hours.
	WorkdayStartHour float64 `yaml:"workday_start_hour" mapstructure:"workday_start_hour"`

	// WorkdayEndHour is the last bookable time, in fractional hours.
	WorkdayEndHour float64 `yaml:"workday_end_hour" mapstructure:"workday_end_hour"`

	// SlotMinutes is the session length.
	SlotMinutes int `yaml:"slot_minutes" mapstructure:"slot_minutes"`

	// HorizonDays is how far ahead to search for a slot.
	HorizonDays int `yaml:"horizon_days" mapstructure:"horizon_days"`
}

// ApprovalConfig contains approval routing settings.
type ApprovalConfig struct {
	// Approvers are the addresses asked to review large requests.
	Approvers []string `yaml:"approvers" mapstructure:"approvers"`

	// AutoApproveMax is the largest material count approved without review.
	AutoApproveMax int `yaml:"auto_approve_max" mapstructure:"auto_approve_max"`
}

// NotifyConfig contains notification addressing.
type NotifyConfig struct {
	// ProcurementAddress receives missing-material requests.
	ProcurementAddress string `yaml:"procurement_address" mapstructure:"procurement_address"`

	// ConflictWatchers are teachers told about new lab bookings.
	ConflictWatchers []string `yaml:"conflict_watchers" mapstructure:"conflict_watchers"`
}

// GraphConfig contains Microsoft Graph connection settings.
type GraphConfig struct {
	// TenantID, ClientID and ClientSecret configure the client-credentials
	// flow. The secret usually arrives via LABFLOW_GRAPH_CLIENT_SECRET.
	TenantID     string `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`

	// BaseURL overrides the Graph endpoint, mainly for tests.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Sender is the mailbox notifications are sent from.
	Sender string `yaml:"sender" mapstructure:"sender"`

	// SiteID and ListID identify the SharePoint stock directory list.
	SiteID string `yaml:"site_id" mapstructure:"site_id"`
	ListID string `yaml:"list_id" mapstructure:"list_id"`

	// MaxAttempts bounds request attempts per Graph call.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// RetryBaseDelay is the first backoff delay for throttled calls.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "labflow"),
			ConfigDir: filepath.Join(homeDir, ".config", "labflow"),
		},
		Database: DatabaseConfig{
			Path:           "", // Will be set to DataDir/labflow.db
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			EnableCaller: false,
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8484",
			ShutdownTimeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			PollInterval:   1 * time.Second,
			MaxAttempts:    5,
			RetryBaseDelay: 5 * time.Second,
		},
		Inventory: InventoryConfig{
			CacheTTL:     2 * time.Minute,
			CacheMaxSize: 200,
		},
		Scheduling: SchedulingConfig{
			Labs:             map[string]string{},
			DefaultLab:       "Lab A",
			WorkdayStartHour: 7.5,
			WorkdayEndHour:   16.0,
			SlotMinutes:      90,
			HorizonDays:      14,
		},
		Approval: ApprovalConfig{
			Approvers:      []string{},
			AutoApproveMax: 3,
		},
		Notify: NotifyConfig{
			ConflictWatchers: []string{},
		},
		Graph: GraphConfig{
			MaxAttempts:    3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1")
	}

	if c.Queue.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("queue.poll_interval must be at least 100ms")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}

	if c.Inventory.CacheTTL <= 0 {
		return fmt.Errorf("inventory.cache_ttl must be positive")
	}
	if c.Inventory.CacheMaxSize < 1 {
		return fmt.Errorf("inventory.cache_max_size must be at least 1")
	}

	if c.Scheduling.WorkdayStartHour >= c.Scheduling.WorkdayEndHour {
		return fmt.Errorf("scheduling.workday_start_hour must be before workday_end_hour")
	}
	if c.Scheduling.SlotMinutes < 1 {
		return fmt.Errorf("scheduling.slot_minutes must be at least 1")
	}
	if c.Scheduling.HorizonDays < 1 {
		return fmt.Errorf("scheduling.horizon_days must be at least 1")
	}

	if c.Approval.AutoApproveMax < 0 {
		return fmt.Errorf("approval.auto_approve_max must not be negative")
	}

	return nil
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

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "labflow.db")
}
