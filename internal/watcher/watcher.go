// Package watcher turns filesystem notifications into fast-path Events,
// filtering out directory noise and ignored files before anything reaches
// the reconciler.
package watcher

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultsync/vaultsync/internal/pathutil"
)

// Watcher watches one project's local root recursively. fsnotify only
// watches the directories it is told about, so Watcher walks the tree at
// startup and adds a watch for every directory it finds, then adds new
// directories to the watch set as they are created.
type Watcher struct {
	project string
	root    string
	fsw     *fsnotify.Watcher
	queue   *eventQueue
	logger  *log.Logger
}

// New creates a Watcher for root and starts watching immediately. Call
// Run in its own goroutine to begin pumping events; call Close to stop.
func New(project, root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		project: project,
		root:    root,
		fsw:     fsw,
		queue:   newEventQueue(4096),
		logger:  log.Default(),
	}
	if err := w.addTreeLocked(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".sync" {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run pumps fsnotify events into the internal queue until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watcher[%s]: %v", w.project, err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if base == ".sync" || pathutil.IsIgnored(base) {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if isDir {
		if ev.Op&(fsnotify.Create) != 0 {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Printf("watcher[%s]: add %s: %v", w.project, ev.Name, err)
			}
		}
		// Events for directories that still exist never reach the
		// reconciler; a removed or renamed-away directory can no longer be
		// stat'ed, so its event is enqueued like a file event.
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	if !w.queue.TryEnqueue(Event{Project: w.project, Path: ev.Name, IsDir: false}) {
		w.logger.Printf("watcher[%s]: event queue full, dropping %s (next full pass will catch it)", w.project, ev.Name)
	}
}

// Next blocks for the next filtered event.
func (w *Watcher) Next(ctx context.Context) (Event, bool) {
	return w.queue.Dequeue(ctx)
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
