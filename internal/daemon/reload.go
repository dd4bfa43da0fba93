package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the write bursts editors and atomic renames
// produce into one reload.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the persisted config file and triggers a reconcile
// whenever the file is written, created or renamed into place, including
// by the daemon's own persistence (that reconcile finds nothing to
// change). The parent directory is
// watched rather than the file itself, so the watch survives the
// tmp+rename writes the daemon's own persistence uses.
type Reloader struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
}

// NewReloader creates a watcher for the config path.
func NewReloader(path string, onChange func()) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", filepath.Dir(path), err)
	}
	return &Reloader{watcher: watcher, path: path, onChange: onChange}, nil
}

// Run watches for changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.onChange)
			}

		case _, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
