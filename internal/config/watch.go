package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events a single save produces.
var reloadDebounce = 100 * time.Millisecond

// Reload describes one applied config reload.
type Reload struct {
	Config *Config
	Diff   Diff
}

// WatchDevices keeps reg in step with the device list in the file at path
// until ctx is cancelled. onReload, when non-nil, is called after each
// applied reload.
//
// The parent directory is watched rather than the file, so rename-style
// saves and ConfigMap symlink swaps (the "..data" entry) are picked up
// without re-adding the watch. A file that fails to load or validate is
// logged and the registry keeps its previous devices.
func WatchDevices(ctx context.Context, path string, reg *Registry, onReload func(Reload)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	slog.Info("config: watching devices", "path", path, "devices", reg.Len())

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(event.Name)
			if base != name && base != "..data" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			if r, ok := reloadDevices(path, reg); ok && onReload != nil {
				onReload(r)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func reloadDevices(path string, reg *Registry) (Reload, bool) {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("config: reload failed, keeping previous devices",
			"path", path, "devices", reg.Len(), "err", err)
		return Reload{}, false
	}
	diff := reg.Replace(cfg.Devices)
	if diff.Empty() {
		slog.Debug("config: reloaded, devices unchanged", "path", path, "devices", reg.Len())
	} else {
		slog.Info("config: devices reloaded",
			"path", path,
			"devices", reg.Len(),
			"added", diff.Added,
			"removed", diff.Removed,
			"changed", diff.Changed,
		)
	}
	return Reload{Config: cfg, Diff: diff}, true
}
