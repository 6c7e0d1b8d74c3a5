package observe

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// maxWatchedDirs bounds how many directories a watcher subscribes to.
const maxWatchedDirs = 512

// watcher records filesystem events under a workspace while a task runs.
// It complements the snapshot diff, which misses rewrites that leave size
// and a coarse-grained mtime unchanged.
type watcher struct {
	root string
	fsw  *fsnotify.Watcher
	done chan struct{}

	mu       sync.Mutex
	modified map[string]bool
	created  map[string]bool
	deleted  map[string]bool
}

func startWatcher(root string, dirs []string) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for i, dir := range dirs {
		if i >= maxWatchedDirs {
			break
		}
		// A directory that vanished since the snapshot is simply not watched.
		_ = fsw.Add(dir)
	}

	w := &watcher{
		root:     root,
		fsw:      fsw,
		done:     make(chan struct{}),
		modified: make(map[string]bool),
		created:  make(map[string]bool),
		deleted:  make(map[string]bool),
	}
	go w.loop()
	return w, nil
}

func (w *watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.record(ev)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *watcher) record(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case ev.Has(fsnotify.Create):
		w.created[rel] = true
		delete(w.deleted, rel)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.created[rel] {
			delete(w.created, rel)
		} else {
			w.deleted[rel] = true
		}
		delete(w.modified, rel)
	case ev.Has(fsnotify.Write):
		if !w.created[rel] {
			w.modified[rel] = true
		}
	}
}

// stop closes the watcher and returns what it saw.
func (w *watcher) stop() FileChanges {
	_ = w.fsw.Close()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	return FileChanges{
		Modified: sortedKeys(w.modified),
		Created:  sortedKeys(w.created),
		Deleted:  sortedKeys(w.deleted),
	}
}
