package skills

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/TenVexAI/saipling/pkg/logger"
)

// DefaultDebounce is how long Watch waits after the last change before
// rediscovering skills.
const DefaultDebounce = 500 * time.Millisecond

// Watch rediscovers skills into registry whenever a file under dirs
// changes, until ctx is done. Directories that do not exist are skipped.
func Watch(ctx context.Context, registry *Registry, dirs, allowed []string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create skill watcher")
	}
	defer watcher.Close()

	for _, dir := range dirs {
		watchTree(ctx, watcher, dir)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					watchTree(ctx, watcher, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			registry.Replace(Initialize(ctx, dirs, allowed))
			logger.G(ctx).WithField("count", len(registry.All())).Info("skills reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.G(ctx).WithError(err).Warn("skill watcher error")
		}
	}
}

// watchTree adds dir and its subdirectories. fsnotify does not recurse.
func watchTree(ctx context.Context, watcher *fsnotify.Watcher, dir string) {
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			logger.G(ctx).WithError(err).WithField("dir", path).Debug("failed to watch skill directory")
		}
		return nil
	})
}
