package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDelay = 500 * time.Millisecond

// Watch reloads the configuration whenever the file read by the last Load
// changes and passes the new value to onChange. Invalid edits are logged and
// skipped. It returns once the watcher is running; watching stops when ctx is
// done.
func (l *Loader) Watch(ctx context.Context, logger zerolog.Logger, onChange func(*Config)) error {
	if l.used == "" {
		return fmt.Errorf("no config file to watch")
	}
	path, err := filepath.Abs(l.used)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	log := logger.With().Str("component", "config-watcher").Str("path", path).Logger()
	reload := func() {
		next := &Loader{Path: path, EnvFile: l.EnvFile}
		cfg, err := next.Load()
		if err != nil {
			log.Error().Err(err).Msg("Ignoring invalid configuration change")
			return
		}
		log.Info().Msg("Configuration reloaded")
		onChange(cfg)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	log.Debug().Msg("Watching configuration file")
	return nil
}
