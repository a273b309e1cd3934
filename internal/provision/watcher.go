package provision

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calm-otter-ops/siren/internal/storage"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 500 * time.Millisecond

// Watch re-applies the provisioning file whenever it changes on disk,
// until ctx is canceled. A file that fails to parse is logged and
// skipped; the previously applied configuration stays in effect.
func Watch(ctx context.Context, store storage.Storage, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors that write via
	// rename would otherwise detach the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			applied, err := ApplyFile(ctx, store, path)
			if err != nil {
				log.Printf("provisioning reload failed, keeping previous configuration: %v", err)
				continue
			}
			log.Printf("provisioning reloaded: %d entities applied from %s", applied, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("provisioning watcher error: %v", err)
		}
	}
}
