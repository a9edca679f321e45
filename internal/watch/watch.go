// Package watch follows the shared durable state (lease, kill-switch,
// queue log) and invokes a handler when any of it changes. fsnotify with a
// debounce timer, falling back to polling where inotify is unavailable.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceDefault = 200 * time.Millisecond
	pollDefault     = 2 * time.Second
)

// Watcher observes a fixed set of files.
type Watcher struct {
	paths    map[string]bool
	handler  func(path string)
	debounce time.Duration
}

// New creates a watcher for the given files; handler is called with each
// changed path after the debounce window closes.
func New(paths []string, handler func(path string)) *Watcher {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.Clean(p)] = true
	}
	return &Watcher{paths: set, handler: handler, debounce: debounceDefault}
}

// Run watches until ctx is cancelled. Events are debounced with a single
// timer: one more change inside the window restarts it, and the batch
// flushes when it fires, so bursts of writes produce one callback per file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch parent directories: the lease and kill-switch are replaced by
	// rename, which unwatches the file itself.
	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
		if err := watcher.Add(d); err != nil {
			return err
		}
	}

	var mu sync.Mutex
	ready := make(map[string]bool)

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()
		for _, p := range batch {
			w.handler(p)
		}
	}

	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(event.Name)
			if !w.paths[name] {
				continue
			}

			mu.Lock()
			ready[name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Poller is the fallback watcher for filesystems without change
// notification (NFS and friends): it compares modification times on an
// interval.
type Poller struct {
	paths    []string
	handler  func(path string)
	interval time.Duration
	mtimes   map[string]time.Time
}

// NewPoller creates a polling watcher.
func NewPoller(paths []string, handler func(path string), interval time.Duration) *Poller {
	if interval == 0 {
		interval = pollDefault
	}
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return &Poller{
		paths:    cleaned,
		handler:  handler,
		interval: interval,
		mtimes:   make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.scan(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.scan(true)
		}
	}
}

// scan records current mtimes; when notify is set, changed files trigger
// the handler. The first scan seeds the baseline silently.
func (p *Poller) scan(notify bool) {
	for _, path := range p.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		prev, seen := p.mtimes[path]
		p.mtimes[path] = info.ModTime()
		if notify && (!seen || info.ModTime().After(prev)) {
			p.handler(path)
		}
	}
}
