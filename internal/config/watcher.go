package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file when it changes and hands every valid
// result to apply. Invalid edits are logged and ignored.
type Watcher struct {
	path   string
	apply  func(*Config)
	logger zerolog.Logger
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, apply func(*Config), logger zerolog.Logger) *Watcher {
	return &Watcher{path: path, apply: apply, logger: logger}
}

// String names the service in the supervisor tree.
func (w *Watcher) String() string { return "config-watcher" }

// Serve watches until ctx is done. The parent directory is watched so
// editors that replace the file by rename are seen too.
func (w *Watcher) Serve(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	target := filepath.Clean(w.path)
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w.logger.Info().Str("path", target).Msg("watching config file")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload(ev.Op)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload(op fsnotify.Op) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("op", op.String()).Msg("config reload rejected, keeping current settings")
		return
	}
	w.logger.Info().Str("path", w.path).Str("op", op.String()).Msg("config reloaded")
	w.apply(cfg)
}
