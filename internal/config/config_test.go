package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livinlefevreloca/upkeep/internal/cache"
	"github.com/livinlefevreloca/upkeep/internal/inbox"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "upkeep.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Site.AdminEmail = "admin@example.org"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Database.Driver)
	}
	if cfg.Maintenance.Frequency != "weekly" {
		t.Errorf("expected weekly frequency, got %s", cfg.Maintenance.Frequency)
	}
	if !cfg.Maintenance.UpdatePlugins || !cfg.Maintenance.UpdateThemes {
		t.Error("expected plugin and theme updates enabled by default")
	}
	if cfg.Maintenance.ErrorLogCap != 50 {
		t.Errorf("expected error_log_cap 50, got %d", cfg.Maintenance.ErrorLogCap)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP enabled on 8080, got %v %d", cfg.HTTP.Enabled, cfg.HTTP.Port)
	}

	// Defaults need only a recipient to be valid.
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected defaults plus admin email to validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[site]
name = "example.org"
admin_email = "admin@example.org"
timezone = "Europe/Berlin"

[maintenance]
frequency = "daily"
kickoff_time = "03:30"
update_themes = false
run_timeout = "10m"

[mail]
host = "smtp.example.org"
port = 465
tls = "mandatory"

[[cache.backends]]
type = "wpcli"
preset = "w3-total-cache"

[[cache.backends]]
type = "http"
url = "http://127.0.0.1:6081/"
method = "BAN"
timeout = "2s"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	if cfg.Site.Name != "example.org" {
		t.Errorf("expected site name example.org, got %s", cfg.Site.Name)
	}
	if cfg.Maintenance.RunTimeout != 10*time.Minute {
		t.Errorf("expected run_timeout 10m, got %v", cfg.Maintenance.RunTimeout)
	}
	if cfg.Maintenance.UpdateThemes {
		t.Error("expected theme updates disabled")
	}
	if !cfg.Maintenance.UpdatePlugins {
		t.Error("expected plugin updates to keep the default")
	}
	if len(cfg.Cache.Backends) != 2 {
		t.Fatalf("expected 2 cache backends, got %d", len(cfg.Cache.Backends))
	}
	if cfg.Cache.Backends[1].Timeout != 2*time.Second {
		t.Errorf("expected backend timeout 2s, got %v", cfg.Cache.Backends[1].Timeout)
	}
	if cfg.Location().String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %s", cfg.Location())
	}

	// Defaults survive for unspecified sections.
	if cfg.Database.DSN != "upkeep.db" {
		t.Errorf("expected default DSN, got %s", cfg.Database.DSN)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFromFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := writeConfig(t, dir, "[site\nname = ")
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected error for malformed TOML")
	}

	unknown := writeConfig(t, dir, "[site]\nnmae = \"typo\"\n")
	if _, err := LoadFromFile(unknown); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadConfig_NoPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Site.Name != "WordPress" {
		t.Errorf("expected defaults, got site name %s", cfg.Site.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"empty site name", func(c *Config) { c.Site.Name = "" }},
		{"bad timezone", func(c *Config) { c.Site.Timezone = "Mars/Olympus" }},
		{"bad frequency", func(c *Config) { c.Maintenance.Frequency = "yearly" }},
		{"bad kickoff", func(c *Config) { c.Maintenance.KickoffTime = "25:00" }},
		{"no recipient", func(c *Config) { c.Site.AdminEmail = "" }},
		{"bad recipient", func(c *Config) { c.Maintenance.RecipientEmail = "nobody" }},
		{"negative cap", func(c *Config) { c.Maintenance.ErrorLogCap = -1 }},
		{"cap above maximum", func(c *Config) { c.Maintenance.ErrorLogCap = maintenance.MaxErrorLogCap + 1 }},
		{"zero run timeout", func(c *Config) { c.Maintenance.RunTimeout = 0 }},
		{"bad tls", func(c *Config) { c.Mail.TLS = "maybe" }},
		{"unknown backend", func(c *Config) { c.Cache.Backends = []cache.BackendSpec{{Type: "varnishd"}} }},
		{"nats without url", func(c *Config) { c.Cache.Backends = []cache.BackendSpec{{Type: "nats"}} }},
		{"zero scheduler inbox", func(c *Config) { c.Scheduler.InboxBufferSize = 0 }},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"zero trigger rate", func(c *Config) { c.HTTP.TriggerRate = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSettings_RecipientFallback(t *testing.T) {
	cfg := validConfig()

	s := cfg.Settings()
	if s.RecipientEmail != "admin@example.org" {
		t.Errorf("expected admin fallback, got %s", s.RecipientEmail)
	}
	if s.Frequency != maintenance.FrequencyWeekly {
		t.Errorf("expected weekly, got %s", s.Frequency)
	}

	cfg.Maintenance.RecipientEmail = "ops@example.com"
	if got := cfg.Settings().RecipientEmail; got != "ops@example.com" {
		t.Errorf("expected override, got %s", got)
	}
}

func TestMailConfig_SenderDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Site.Name = "example.org"

	m := cfg.MailConfig()
	if m.FromName != "example.org" || m.FromAddress != "admin@example.org" {
		t.Errorf("unexpected sender %q <%s>", m.FromName, m.FromAddress)
	}
}

func TestWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[site]\nadmin_email = \"admin@example.org\"\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	updates := inbox.New[maintenance.Settings](4, time.Second, logger)
	w, err := NewWatcher(path, cfg, updates, logger)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// An invalid edit is ignored.
	writeConfig(t, dir, "[site]\nadmin_email = \"admin@example.org\"\n[maintenance]\nfrequency = \"yearly\"\n")
	time.Sleep(3 * reloadDelay)
	if got := w.Config().Maintenance.Frequency; got != "weekly" {
		t.Fatalf("invalid config was applied: frequency %s", got)
	}

	writeConfig(t, dir, "[site]\nadmin_email = \"admin@example.org\"\n[maintenance]\nfrequency = \"daily\"\nkickoff_time = \"04:00\"\n")

	select {
	case s := <-updates.C():
		if s.Frequency != maintenance.FrequencyDaily || s.KickoffTime != "04:00" {
			t.Errorf("unexpected settings %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	got, _ := w.Settings()
	if got.Frequency != maintenance.FrequencyDaily {
		t.Errorf("expected daily after reload, got %s", got.Frequency)
	}
}

func TestWatcher_ReloadWithoutUpdates(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "[site]\nadmin_email = \"admin@example.org\"\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w, err := NewWatcher(path, cfg, nil, logger)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsw.Close()

	writeConfig(t, dir, "[site]\nadmin_email = \"admin@example.org\"\n[maintenance]\nfrequency = \"daily\"\n")

	// With no consumer, reloads must never wait on a send timeout.
	start := time.Now()
	for i := 0; i < 20; i++ {
		w.reload(context.Background())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("reloads took %s", elapsed)
	}
	if got := w.Config().Maintenance.Frequency; got != "daily" {
		t.Errorf("expected daily after reload, got %s", got)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join("..", "..", "upkeep.example.toml"))
	if err != nil {
		t.Fatalf("failed to load example config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config does not validate: %v", err)
	}
	if cfg.Settings().RecipientEmail != "ops@example.org" {
		t.Errorf("expected recipient ops@example.org, got %s", cfg.Settings().RecipientEmail)
	}
}
