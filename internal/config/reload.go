package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the write bursts editors and config
// management tools produce when rewriting a file.
const debounceWindow = 250 * time.Millisecond

// Watcher re-parses the config file when it changes on disk and hands
// the validated result to a callback. Only hot-reloadable values (the
// signing secret) should be consumed from reloaded configs; listener
// and transport settings require a restart.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onReload func(*Config)
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a Watcher for the given config file.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: most tools replace config
	// files by rename, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:     path,
		logger:   logger.With("component", "config_watcher"),
		onReload: onReload,
		fsw:      fsw,
	}, nil
}

// Run processes filesystem events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(debounceWindow, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(debounceWindow)
			}
		case <-fire:
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "err", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) reload() {
	cfg, err := parseFile(w.path)
	if err != nil {
		w.logger.Error("reload failed, keeping previous config", "err", err)
		return
	}
	if err := cfg.validate(); err != nil {
		w.logger.Error("reloaded config invalid, keeping previous config", "err", err)
		return
	}
	cfg.setDefaults()

	w.logger.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}
