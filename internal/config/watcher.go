package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher watches the config file and reloads it on change.
type Watcher struct {
	onReload func(*Config, error)
	current  *Config
	done     chan struct{}
	path     string
	mu       sync.RWMutex
	reloads  atomic.Uint32
	stopOnce sync.Once
}

// NewWatcher loads path and starts watching it. onReload receives every
// successfully reloaded config, or the error of a failed reload; the last
// good config stays current on failure.
func NewWatcher(path string, onReload func(*Config, error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors replace files on save, so watch the directory and filter by name.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	watcher := &Watcher{
		path:     path,
		onReload: onReload,
		current:  cfg,
		done:     make(chan struct{}),
	}

	go watcher.watch(fsw)

	return watcher, nil
}

// watch watches for configuration changes.
func (cw *Watcher) watch(fsw *fsnotify.Watcher) {
	defer fsw.Close()

	var timer *time.Timer
	target := filepath.Clean(cw.path)

	for {
		select {
		case <-cw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}

				timer = time.AfterFunc(watchDebounce, cw.reload)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}

			slog.Error("Config watcher error", "error", err)
		}
	}
}

// reload reloads the config file.
func (cw *Watcher) reload() {
	count := cw.reloads.Add(1)
	slog.Info("Reloading config file", "path", cw.path, "count", count)

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		cw.onReload(nil, err)
		return
	}

	cw.mu.Lock()
	cw.current = cfg
	cw.mu.Unlock()

	slog.Info("Config reloaded successfully", "count", count)
	cw.onReload(cfg, nil)
}

// Snapshot returns the current config snapshot (thread-safe).
func (cw *Watcher) Snapshot() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	return cw.current
}

// ReloadCount returns the number of times the config has been reloaded.
func (cw *Watcher) ReloadCount() uint32 {
	return cw.reloads.Load()
}

// Close stops watching.
func (cw *Watcher) Close() error {
	cw.stopOnce.Do(func() {
		close(cw.done)
	})
	return nil
}
