// Package realtime implements the realtimeUpdates background reload (spec
// §6 realtimeUpdates.{enabled,interval}): watching a filesystem storage
// root for externally mutated index singletons and invoking a reload
// callback when they change.
package realtime

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/axiomgraph/axiom/pkg/logging"
)

// watchedSingletons are the index files an external process might mutate
// out-of-band (spec §6 persisted layout).
var watchedSingletons = map[string]bool{
	"index.json":          true,
	"metadata-index.json": true,
	"graph-adjacency.json": true,
}

// Watcher debounces fsnotify events on root and invokes onChange(name) at
// most once per Interval per singleton.
type Watcher struct {
	fsw      *fsnotify.Watcher
	log      logging.Logger
	interval time.Duration
	last     map[string]time.Time
}

// New starts watching root for changes to the singleton files listed above.
func New(root string, interval time.Duration, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, log: log, interval: interval, last: make(map[string]time.Time)}, nil
}

// Run blocks, invoking onChange whenever a watched singleton is written,
// until stop is closed.
func (w *Watcher) Run(onChange func(name string), stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !watchedSingletons[name] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			now := time.Now()
			if last, ok := w.last[name]; ok && now.Sub(last) < w.interval {
				continue
			}
			w.last[name] = now
			onChange(name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("realtime watcher error", "error", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
