package schema

import (
	"context"
	"io/fs"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the registry when dirPath changes on disk, swapping
// the result into target via the supplied setter. It is a no-op for
// bundled (embedded) schema trees, which cannot change at runtime.
// Enrichment beyond the original Python, which only loads schemas once at
// process start; grounded on C360Studio-semspec's fsnotify usage pattern.
func Watch(ctx context.Context, dirPath string, logger *slog.Logger, onReload func(*Registry)) error {
	if dirPath == "" || dirPath == "<bundled>" {
		return nil
	}
	if _, err := os.Stat(dirPath); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dirPath); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				reg, err := Load(fs.FS(os.DirFS(dirPath)))
				if err != nil {
					logger.Warn("schema hot-reload failed", slog.Any("error", err))
					continue
				}
				logger.Info("schema registry reloaded", slog.String("dir", dirPath))
				onReload(reg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("schema watcher error", slog.Any("error", err))
			}
		}
	}()
	return nil
}
