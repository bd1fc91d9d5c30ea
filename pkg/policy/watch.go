package policy

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the policy whenever the file changes on disk, in addition to
// the watchdog's interval reload. Editors and configmap mounts replace files
// rather than writing in place, so the parent directory is watched and events
// are filtered by name. The callback receives the new fingerprint after each
// effective reload. Watch blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context, onReload func(fingerprint string)) error {
	if e.policyPath == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(e.policyPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(e.policyPath)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if e.Reload() && onReload != nil {
				onReload(e.Fingerprint())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Error().Err(err).Msg("policy watch error")
		case <-ctx.Done():
			return nil
		}
	}
}
