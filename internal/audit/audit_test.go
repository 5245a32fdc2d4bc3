package audit

import (
	"sync"
	"testing"
)

func TestRecordAndFilter(t *testing.T) {
	l := New(nil)
	l.Record("task.submitted", "t1", nil)
	l.Record("task.started", "t1", map[string]any{"engine": "claude"})
	l.Record("task.submitted", "t2", nil)

	evs := l.EventsFor("t1")
	if len(evs) != 2 {
		t.Fatalf("got %d events for t1, want 2", len(evs))
	}
	if evs[0].Action != "task.submitted" || evs[1].Action != "task.started" {
		t.Errorf("events out of order: %s, %s", evs[0].Action, evs[1].Action)
	}
	if evs[1].Meta["engine"] != "claude" {
		t.Errorf("meta lost: %v", evs[1].Meta)
	}
	if evs[0].ID == "" || evs[0].ID == evs[1].ID {
		t.Errorf("event ids not unique: %q %q", evs[0].ID, evs[1].ID)
	}
	if evs[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if len(l.All()) != 3 {
		t.Errorf("All() = %d events, want 3", len(l.All()))
	}
}

func TestConcurrentRecord(t *testing.T) {
	l := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("task.progress", "t1", nil)
		}()
	}
	wg.Wait()
	if got := len(l.EventsFor("t1")); got != 50 {
		t.Errorf("got %d events, want 50", got)
	}
}

func TestClear(t *testing.T) {
	l := New(nil)
	l.Record("task.submitted", "t1", nil)
	l.Clear()
	if len(l.All()) != 0 {
		t.Error("Clear did not drop events")
	}
}
