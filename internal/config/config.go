package config

import (
	"fmt"
	"net/mail"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/upkeep/internal/cache"
	"github.com/livinlefevreloca/upkeep/internal/cron"
	"github.com/livinlefevreloca/upkeep/internal/db"
	"github.com/livinlefevreloca/upkeep/internal/mailer"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
	"github.com/livinlefevreloca/upkeep/internal/scheduler"
	"github.com/livinlefevreloca/upkeep/internal/wpcli"
)

// Config represents the application configuration
type Config struct {
	Database    db.Config         `toml:"database"`
	Site        SiteConfig        `toml:"site"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Mail        mailer.Config     `toml:"mail"`
	WPCLI       wpcli.Config      `toml:"wpcli"`
	Cache       CacheConfig       `toml:"cache"`
	Scheduler   scheduler.Config  `toml:"scheduler"`
	HTTP        HTTPConfig        `toml:"http"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Logging     LoggingConfig     `toml:"logging"`
	Tracing     TracingConfig     `toml:"tracing"`
}

// SiteConfig describes the site being maintained
type SiteConfig struct {
	Name       string `toml:"name"`
	HomeURL    string `toml:"home_url"`
	AdminEmail string `toml:"admin_email"`
	Path       string `toml:"path"`
	ErrorLog   string `toml:"error_log"`
	Timezone   string `toml:"timezone"`
}

// MaintenanceConfig holds the operator settings of the maintenance run
type MaintenanceConfig struct {
	Frequency      string        `toml:"frequency"`
	RecipientEmail string        `toml:"recipient_email"`
	UpdatePlugins  bool          `toml:"update_plugins"`
	UpdateThemes   bool          `toml:"update_themes"`
	KickoffTime    string        `toml:"kickoff_time"`
	ErrorLogCap    int           `toml:"error_log_cap"`
	RunTimeout     time.Duration `toml:"run_timeout"`
	ProbeTimeout   time.Duration `toml:"probe_timeout"`
}

// CacheConfig lists the cache backends to clear
type CacheConfig struct {
	Backends []cache.BackendSpec `toml:"backends"`
	NATS     NATSConfig          `toml:"nats"`
}

// NATSConfig holds the connection used by "nats" cache backends
type NATSConfig struct {
	URL  string `toml:"url"`
	Name string `toml:"name"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled      bool    `toml:"enabled"`
	Address      string  `toml:"address"`
	Port         int     `toml:"port"`
	TriggerRate  float64 `toml:"trigger_rate"`
	TriggerBurst int     `toml:"trigger_burst"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	PrettyPrint bool   `toml:"pretty_print"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "upkeep.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Site: SiteConfig{
			Name:     "WordPress",
			HomeURL:  "http://localhost/",
			Path:     "/var/www/html",
			ErrorLog: "/var/www/html/wp-content/debug.log",
		},
		Maintenance: MaintenanceConfig{
			Frequency:     string(maintenance.FrequencyWeekly),
			UpdatePlugins: true,
			UpdateThemes:  true,
			ErrorLogCap:   maintenance.DefaultErrorLogCap,
			RunTimeout:    30 * time.Minute,
			ProbeTimeout:  10 * time.Second,
		},
		Mail: mailer.Config{
			Host:    "localhost",
			Port:    587,
			TLS:     "opportunistic",
			Timeout: 30 * time.Second,
		},
		WPCLI: wpcli.Config{
			Binary:  "wp",
			Path:    "/var/www/html",
			Timeout: 5 * time.Minute,
		},
		Cache: CacheConfig{
			NATS: NATSConfig{Name: "upkeep"},
		},
		Scheduler: scheduler.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         8080,
			TriggerRate:  1.0 / 60,
			TriggerBurst: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "upkeep",
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %q (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Site validation
	if c.Site.Name == "" {
		return fmt.Errorf("site name must be specified")
	}
	if c.Site.Timezone != "" {
		if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
			return fmt.Errorf("invalid site timezone: %w", err)
		}
	}

	// Maintenance validation
	if _, err := maintenance.ParseFrequency(c.Maintenance.Frequency); err != nil {
		return err
	}
	if _, _, err := cron.ParseKickoff(c.Maintenance.KickoffTime); err != nil {
		return err
	}
	recipient := c.recipient()
	if recipient == "" {
		return fmt.Errorf("a report recipient is required (maintenance.recipient_email or site.admin_email)")
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return fmt.Errorf("invalid report recipient %q: %w", recipient, err)
	}
	if c.Maintenance.ErrorLogCap < 0 || c.Maintenance.ErrorLogCap > maintenance.MaxErrorLogCap {
		return fmt.Errorf("maintenance error_log_cap must be between 0 and %d", maintenance.MaxErrorLogCap)
	}
	if c.Maintenance.RunTimeout <= 0 {
		return fmt.Errorf("maintenance run_timeout must be positive")
	}

	// Mail validation
	if c.Mail.Host == "" {
		return fmt.Errorf("mail host must be specified")
	}
	if _, err := c.Mail.TLSPolicy(); err != nil {
		return err
	}
	if c.MailConfig().FromAddress == "" {
		return fmt.Errorf("mail from_address or site admin_email must be specified")
	}

	// Cache validation
	for i, b := range c.Cache.Backends {
		switch b.Type {
		case "wpcli", "http":
		case "nats":
			if c.Cache.NATS.URL == "" {
				return fmt.Errorf("cache backend %d: nats backends require cache.nats.url", i)
			}
		default:
			return fmt.Errorf("cache backend %d: unknown type %q (must be wpcli, http, or nats)", i, b.Type)
		}
	}

	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
		if c.HTTP.TriggerRate <= 0 || c.HTTP.TriggerBurst <= 0 {
			return fmt.Errorf("HTTP trigger_rate and trigger_burst must be positive")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// Settings extracts the per-run settings. The recipient falls back to the
// site admin address.
func (c *Config) Settings() maintenance.Settings {
	freq, err := maintenance.ParseFrequency(c.Maintenance.Frequency)
	if err != nil {
		freq = maintenance.FrequencyWeekly
	}
	return maintenance.Settings{
		Frequency:      freq,
		RecipientEmail: c.recipient(),
		UpdatePlugins:  c.Maintenance.UpdatePlugins,
		UpdateThemes:   c.Maintenance.UpdateThemes,
		KickoffTime:    c.Maintenance.KickoffTime,
		ErrorLogCap:    c.Maintenance.ErrorLogCap,
	}
}

// Location returns the site time zone, defaulting to local time
func (c *Config) Location() *time.Location {
	if c.Site.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ListenAddr returns the HTTP listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.Port)
}

func (c *Config) recipient() string {
	if c.Maintenance.RecipientEmail != "" {
		return c.Maintenance.RecipientEmail
	}
	return c.Site.AdminEmail
}

// MailConfig returns the SMTP settings with the sender defaulting to the
// site name and admin address.
func (c *Config) MailConfig() mailer.Config {
	m := c.Mail
	if m.FromName == "" {
		m.FromName = c.Site.Name
	}
	if m.FromAddress == "" {
		m.FromAddress = c.Site.AdminEmail
	}
	return m
}
