package ops

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Watch reloads the config whenever the file changes and hands the new
// snapshot to fn. It blocks until ctx is done. Reload failures are
// logged and the previous config stays in effect.
func Watch(ctx context.Context, path string, fn func(Loaded)) error {
	if path == "" {
		return errors.New("ops: watch requires a config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace the file on
	// save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "watch %s", path)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("ops: reload %s failed: %v", path, err)
				continue
			}
			logs.Infof("ops: config reloaded from %s", path)
			fn(loaded)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logs.Errorf("ops: watcher error: %v", err)
		}
	}
}
