package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *changeRecorder) handle(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcherSeesWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "lease.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &changeRecorder{}
	w := New([]string{target}, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(target, []byte(`{"owner":"a"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 }) {
		t.Fatal("expected the write to be reported")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watcher failed: %v", err)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "lease.json")
	other := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &changeRecorder{}
	w := New([]string{target}, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(other, []byte("noise"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	if rec.count() != 0 {
		t.Errorf("expected unrelated writes to be ignored, got %v", rec.paths)
	}
}

func TestWatcherSeesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "lease.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &changeRecorder{}
	w := New([]string{target}, rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	// The stores write via temp file + rename; the watcher must survive it.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{"owner":"b"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 }) {
		t.Fatal("expected the rename-replace to be reported")
	}
}

func TestPollerDetectsChange(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "lease.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &changeRecorder{}
	p := NewPoller([]string{target}, rec.handle, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// First scan seeds the baseline; push the mtime forward afterwards.
	time.Sleep(100 * time.Millisecond)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(target, future, future); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return rec.count() > 0 }) {
		t.Fatal("expected the poller to report the change")
	}
}

func TestPollerSilentBaseline(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "lease.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := &changeRecorder{}
	p := NewPoller([]string{target}, rec.handle, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	if rec.count() != 0 {
		t.Errorf("expected no callbacks for an unchanged file, got %v", rec.paths)
	}
}
