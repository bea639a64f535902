package prompt

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the registry whenever the override file changes. It watches
// the parent directory because editors usually replace files by rename.
// Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.overridePath == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	target, err := filepath.Abs(r.overridePath)
	if err != nil {
		return fmt.Errorf("resolve prompt overrides path: %w", err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	r.logger.Info("Watching prompt overrides", "path", target)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			if err := r.Reload(); err != nil {
				r.logger.Warn("Prompt reload failed, keeping previous templates", "error", err)
				continue
			}
			r.logger.Info("Prompt templates reloaded", "path", target)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Prompt watcher error", "error", err)
		}
	}
}
