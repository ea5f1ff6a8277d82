package store

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces the burst of events an editor save produces.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch reports changes to the backing file on the returned channel, at most
// one pending notification at a time. The watcher stops when ctx is done.
// The receiver should call Reload, which ignores our own writes.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(s.path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("resolve %s: %w", s.path, err)
	}

	// Watch the directory: the file itself is replaced on every save.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	notify := make(chan struct{}, 1)
	go s.watchLoop(ctx, w, filepath.Base(abs), debounce, notify)
	return notify, nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, name string, debounce time.Duration, notify chan<- struct{}) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			select {
			case notify <- struct{}{}:
			default: // already pending
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("store: watcher: %v", err)
		}
	}
}
