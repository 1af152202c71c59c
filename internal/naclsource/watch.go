package naclsource

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// WatchEvent reports that a ".nacl" file changed on disk outside of a
// SetNaclFiles/RemoveNaclFiles call the Source itself was asked to make.
// spec.md §4.4 describes the Source purely in terms of calls a caller
// makes to it; Watch exists for the case a caller needs to notice an
// editor or git operation touching the directory out from under a live
// Source, so it can re-read and re-submit the affected files itself.
type WatchEvent struct {
	Name    string
	Removed bool
}

// Watcher observes a Source's root directory for external ".nacl" file
// changes and reports them on Events until Close is called.
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	Events chan WatchEvent
	done   chan struct{}
}

// Watch starts watching s's root directory. Only a Source backed by the
// real OS filesystem can be watched this way; one constructed with
// WithFS(afero.NewMemMapFs()) (as tests do) has nothing an OS-level
// watcher can observe, so Watch rejects it rather than silently never
// firing.
func (s *Source) Watch() (*Watcher, error) {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return nil, fmt.Errorf("naclsource: Watch requires a Source backed by the OS filesystem")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("naclsource: starting watcher: %w", err)
	}
	if err := fsw.Add(s.root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("naclsource: watching %s: %w", s.root, err)
	}
	w := &Watcher{fsw: fsw, root: s.root, Events: make(chan WatchEvent, 16), done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.Events)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".nacl") {
				continue
			}
			name, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				continue
			}
			removed := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
			select {
			case w.Events <- WatchEvent{Name: name, Removed: removed}:
			case <-w.done:
				return
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// A watcher-internal error (e.g. a transient read failure)
			// shouldn't kill the caller's event loop; keep watching.
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and releases its OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
