package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of events one editor save produces.
const reloadDebounce = 150 * time.Millisecond

// Watch reloads config.yaml whenever it changes and hands each config that
// loads cleanly to apply, until ctx ends. A config that fails to load is
// logged and skipped, so the previous settings stay in effect.
//
// The home directory is watched rather than the file, so saves that replace
// the file by rename are seen and a config.yaml created after startup is
// picked up.
func Watch(ctx context.Context, homeDir string, logger *slog.Logger, apply func(Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(homeDir); err != nil {
		fsw.Close()
		return err
	}
	target := filepath.Clean(ConfigPath(homeDir))

	go func() {
		defer fsw.Close()
		// Stopped timer; armed by the first relevant event.
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				logger.Debug("config file changed", "path", ev.Name, "op", ev.Op.String())
				timer.Reset(reloadDebounce)
			case <-timer.C:
				cfg, err := LoadFrom(homeDir)
				if err != nil {
					logger.Error("config reload failed; keeping previous settings", "error", err)
					continue
				}
				apply(cfg)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
