package voice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever a .wav or .txt file in the custom
// voices directory changes. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	dir := xfs.ExpandTilde(r.opts.CustomDir)
	if !xfs.IsDir(dir) {
		return fmt.Errorf("voices directory %s does not exist", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch voices directory: %w", err)
	}

	slog.Info("Watching voices directory", "dir", dir)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}

			slog.Debug("Voices directory changed", "file", event.Name, "op", event.Op.String())

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				if _, err := r.Reload(ctx); err != nil {
					slog.Error("Failed to reload voices", "error", err)
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("Voices watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	switch strings.ToLower(filepath.Ext(event.Name)) {
	case ".wav", ".txt":
	default:
		return false
	}

	return event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) ||
		event.Has(fsnotify.Rename)
}
