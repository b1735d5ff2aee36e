package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/keeperhq/landkit/internal/logger"
)

// Watch reloads the config file on change and invokes onReload with each
// successfully loaded configuration. It blocks until ctx is cancelled.
//
// Only hot-applicable settings should be taken from the reloaded config;
// callers typically use this to adjust the log level without a restart.
// The parent directory is watched rather than the file itself so that
// editors and orchestrators that replace the file atomically keep
// triggering events.
func Watch(ctx context.Context, configPath string, onReload func(*Config)) error {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	target := filepath.Clean(configPath)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(configPath)
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings",
					"path", configPath, logger.KeyError, err)
				continue
			}
			logger.Info("config reloaded", "path", configPath)
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher error: %w", err)
		}
	}
}
