package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of file events into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Debounce time.Duration
	Logger   *slog.Logger

	// OnError receives reload failures. The previous config stays in effect.
	OnError func(error)
}

// Watch reloads the config at path whenever it or one of its includes
// changes and passes each successfully loaded config to onChange. Parent
// directories are watched rather than the files so editors that replace
// files on save are still seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config), opts WatchOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config_watch")
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	w := &configWatcher{watcher: watcher, dirs: map[string]bool{}, files: map[string]bool{}}
	if err := w.refresh(path); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config reload failed", "path", path, "error", err)
			if opts.OnError != nil {
				opts.OnError(err)
			}
			return
		}
		if err := w.refresh(path); err != nil {
			logger.Warn("config watch refresh failed", "error", err)
		}
		logger.Info("config reloaded", "path", path)
		onChange(cfg)
	}
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, reload)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.tracks(event.Name) {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", "error", err)
		}
	}
}

type configWatcher struct {
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]bool
}

// refresh watches the directories of every file the config currently loads.
func (w *configWatcher) refresh(path string) error {
	files, err := Sources(path)
	if err != nil {
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			return err
		}
		// Still watch the root file so a broken config can be fixed in place.
		files = []string{abs}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, file := range files {
		w.files[file] = true
		dir := filepath.Dir(file)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	return nil
}

func (w *configWatcher) tracks(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[abs]
}
