// Package watch bridges filesystem change notifications to a task's
// watch_patterns: when a matching file changes, the task's registered
// callback fires, debounced against rapid successive writes from the
// same editor save.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceWindow = 300 * time.Millisecond

// Match fires when a file directly inside Root matching one of Patterns
// changes, debounced to one call per settle window. Root is watched
// non-recursively; changes in its subdirectories are not seen.
type Match struct {
	Patterns []string
	Root     string
	OnFire   func(path string)
}

// Watcher owns one fsnotify.Watcher and dispatches settled events to
// every registered Match whose pattern matches the changed path.
type Watcher struct {
	log     *zap.Logger
	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	matches map[string]*Match
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Watcher rooted at watch directories added via Add.
func New(log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		log:     log,
		fsw:     fsw,
		matches: make(map[string]*Match),
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	return w, nil
}

// Add registers a watch for id, starting an fsnotify watch on root if
// not already watched.
func (w *Watcher) Add(id string, m *Match) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fsw.Add(m.Root); err != nil {
		return err
	}
	w.matches[id] = m
	return nil
}

// Remove deregisters id's watch.
func (w *Watcher) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.matches, id)
}

// Run processes fsnotify events until Stop is called.
func (w *Watcher) Run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	now := time.Now()
	w.mu.Lock()
	var settled []string
	for path, t := range w.pending {
		if now.Sub(t) >= debounceWindow {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	matches := make(map[string]*Match, len(w.matches))
	for id, m := range w.matches {
		matches[id] = m
	}
	w.mu.Unlock()

	for _, path := range settled {
		for _, m := range matches {
			if matchesAny(path, m.Patterns) {
				m.OnFire(path)
			}
		}
	}
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Stop halts the event loop and closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.fsw.Close()
}
