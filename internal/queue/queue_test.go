package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deskgate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "logs", Filename))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func testRecord(typ, runID string, params map[string]string) DeferredRecord {
	return DeferredRecord{
		Action: model.NewAction(typ, "wf", params),
		RunID:  runID,
		Reason: "deny:NOT_IN_CONTROL_WINDOW",
	}
}

func TestEnqueueAndList(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first enqueue to append")
	}

	pending, err := s.List(Filter{}, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	rec := pending[0]
	if rec.Action.Type != "click" || rec.RunID != "run1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Action.ID == "" || rec.DedupeKey == "" || rec.EnqueuedAt == 0 {
		t.Errorf("expected derived metadata, got %+v", rec)
	}
}

func TestEnqueueOrderPreserved(t *testing.T) {
	s := newTestStore(t)
	for i, typ := range []string{"click", "type_text", "scroll"} {
		rec := testRecord(typ, "run1", map[string]string{"n": string(rune('0' + i))})
		if ok, err := s.Enqueue(rec, Options{}); err != nil || !ok {
			t.Fatalf("enqueue %s: ok=%t err=%v", typ, ok, err)
		}
	}

	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, want := range []string{"click", "type_text", "scroll"} {
		if pending[i].Action.Type != want {
			t.Errorf("position %d: expected %s, got %s", i, want, pending[i].Action.Type)
		}
	}
}

func TestEnqueueDedupeWindow(t *testing.T) {
	s := newTestStore(t)
	opts := Options{DedupeWindow: time.Hour}
	rec := testRecord("click", "run1", map[string]string{"x": "1"})

	if ok, _ := s.Enqueue(rec, opts); !ok {
		t.Fatal("expected first enqueue to append")
	}
	if ok, _ := s.Enqueue(rec, opts); ok {
		t.Fatal("expected duplicate within window to be suppressed")
	}

	pending, _ := s.List(Filter{}, 0)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending after suppression, got %d", len(pending))
	}
}

func TestEnqueueDedupeExpires(t *testing.T) {
	s := newTestStore(t)
	opts := Options{DedupeWindow: time.Minute}

	old := testRecord("click", "run1", map[string]string{"x": "1"})
	old.EnqueuedAt = float64(time.Now().Add(-2 * time.Minute).Unix())
	if ok, _ := s.Enqueue(old, opts); !ok {
		t.Fatal("expected first enqueue to append")
	}

	fresh := testRecord("click", "run1", map[string]string{"x": "1"})
	if ok, _ := s.Enqueue(fresh, opts); !ok {
		t.Fatal("expected enqueue after the window to append")
	}
}

func TestEnqueueDedupeDisabled(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("click", "run1", map[string]string{"x": "1"})

	for i := 0; i < 3; i++ {
		if ok, err := s.Enqueue(rec, Options{}); err != nil || !ok {
			t.Fatalf("enqueue %d: ok=%t err=%v", i, ok, err)
		}
	}
}

func TestEnqueueCooldownAfterCompletion(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("click", "run1", map[string]string{"x": "1"})
	if ok, _ := s.Enqueue(rec, Options{}); !ok {
		t.Fatal("enqueue failed")
	}
	pending, _ := s.List(Filter{}, 0)
	if err := s.markCompleted(pending[0], time.Now()); err != nil {
		t.Fatalf("markCompleted failed: %v", err)
	}

	again := testRecord("click", "run1", map[string]string{"x": "1"})
	if ok, _ := s.Enqueue(again, Options{Cooldown: time.Hour}); ok {
		t.Fatal("expected enqueue within cooldown to be suppressed")
	}
	if ok, _ := s.Enqueue(again, Options{}); !ok {
		t.Fatal("expected enqueue with cooldown disabled to append")
	}
}

func TestCompletionSupersedes(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("click", "run1", map[string]string{"x": "1"})
	s.Enqueue(rec, Options{})

	pending, _ := s.List(Filter{}, 0)
	if err := s.markCompleted(pending[0], time.Now()); err != nil {
		t.Fatalf("markCompleted failed: %v", err)
	}

	pending, _ = s.List(Filter{}, 0)
	if len(pending) != 0 {
		t.Errorf("expected no pending after completion, got %d", len(pending))
	}

	// The enqueue line is retained; completion is a superseding append.
	data, _ := os.ReadFile(s.Path())
	lines := strings.Count(string(data), "\n")
	if lines != 2 {
		t.Errorf("expected 2 lines (enqueue + completion), got %d", lines)
	}
}

func TestGlobalCompletionSuppressesOtherRuns(t *testing.T) {
	s := newTestStore(t)
	params := map[string]string{"x": "1"}
	s.Enqueue(testRecord("click", "run1", params), Options{})
	s.Enqueue(testRecord("click", "run2", params), Options{})

	run1, _ := s.List(Filter{RunID: "run1"}, 0)
	if len(run1) != 1 {
		t.Fatalf("expected 1 pending in run1, got %d", len(run1))
	}
	s.markCompleted(run1[0], time.Now())

	// Globally, a completed action id suppresses every duplicate.
	global, _ := s.List(Filter{}, 0)
	if len(global) != 0 {
		t.Errorf("expected global completion to suppress run2's copy, got %d pending", len(global))
	}

	// Scoped to run2, its own copy is still pending.
	run2, _ := s.List(Filter{RunID: "run2"}, 0)
	if len(run2) != 1 {
		t.Errorf("expected run2's copy to remain pending under a run filter, got %d", len(run2))
	}
}

func TestListFilterByID(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	all, _ := s.List(Filter{}, 0)
	got, _ := s.List(Filter{ID: all[0].Action.ID}, 0)
	if len(got) != 1 || got[0].Action.ID != all[0].Action.ID {
		t.Errorf("expected only the filtered id, got %+v", got)
	}
}

func TestListSkipsUnparseableLines(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(testRecord("click", "run1", map[string]string{"x": "1"}), Options{})

	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("this is not json\n")
	f.Close()

	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	pending, err := s.List(Filter{}, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected the garbage line to be skipped, got %d pending", len(pending))
	}
}

func TestPruneCompactsWithBackup(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("click", "run1", map[string]string{"x": "1"})
	s.Enqueue(rec, Options{})
	pending, _ := s.List(Filter{}, 0)
	s.markCompleted(pending[0], time.Now())
	s.Enqueue(testRecord("scroll", "run1", map[string]string{"y": "2"}), Options{})

	dropped, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 superseded line dropped, got %d", dropped)
	}

	// Latest state survives: click completed, scroll pending.
	sum, _ := s.Summarize()
	if sum.TotalLines != 2 || sum.Pending != 1 || sum.Completed != 1 {
		t.Errorf("unexpected post-prune summary: %+v", sum)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	backup := false
	for _, e := range entries {
		if strings.Contains(e.Name(), ".bak_") {
			backup = true
		}
	}
	if !backup {
		t.Error("expected a .bak_ backup file after prune")
	}
}

func TestPruneEmptyLog(t *testing.T) {
	s := newTestStore(t)
	dropped, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if dropped != 0 {
		t.Errorf("expected nothing dropped from an empty log, got %d", dropped)
	}
}

func TestSummarizeMissingFile(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.Summarize()
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Exists || sum.Pending != 0 {
		t.Errorf("expected empty summary, got %+v", sum)
	}
}
