package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/livinlefevreloca/upkeep/internal/inbox"
	"github.com/livinlefevreloca/upkeep/internal/maintenance"
)

// reloadDelay coalesces the burst of events editors produce on save
const reloadDelay = 200 * time.Millisecond

// Watcher keeps the current configuration, reloading it when the file
// changes. It implements maintenance.SettingsSource.
type Watcher struct {
	path    string
	current atomic.Pointer[Config]
	updates *inbox.Inbox[maintenance.Settings]
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
}

// NewWatcher creates a watcher seeded with cfg. Each successful reload
// publishes the new settings to updates, which may be nil.
func NewWatcher(path string, cfg *Config, updates *inbox.Inbox[maintenance.Settings], logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{path: path, updates: updates, logger: logger, fsw: fsw}
	w.current.Store(cfg)
	return w, nil
}

// Config returns the most recently loaded configuration
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// Settings returns the current per-run settings
func (w *Watcher) Settings() (maintenance.Settings, error) {
	return w.current.Load().Settings(), nil
}

// Run processes file events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(reloadDelay)

		case <-pending:
			pending = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// reload reads and validates the file. An invalid file keeps the previous
// configuration.
func (w *Watcher) reload(ctx context.Context) {
	cfg, err := LoadFromFile(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.current.Store(cfg)
	settings := cfg.Settings()
	w.logger.Info("config reloaded",
		"path", w.path,
		"frequency", string(settings.Frequency),
		"kickoff_time", settings.KickoffTime)

	if w.updates != nil {
		w.updates.Send(ctx, settings)
	}
}
