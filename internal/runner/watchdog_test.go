package runner

import (
	"testing"
	"time"

	"github.com/lailatov/runner/internal/audit"
	"github.com/lailatov/runner/internal/task"
)

func runningState(t *testing.T, store *task.Store, id string, timeoutSeconds int) *task.State {
	t.Helper()
	tk := &task.Task{ID: id, RepoURL: "u", Branch: "b", Instruction: "i", TimeoutSeconds: timeoutSeconds}
	tk.Normalize()
	st, err := store.CreateIfAbsent(tk)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Transition(task.StatusRunning); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestWatchdogForceKillsOvertimeTask(t *testing.T) {
	store := task.NewStore()
	log := audit.New(nil)
	w := NewWatchdog(store, log, time.Second, nil)

	st := runningState(t, store, "runaway", 60)
	// Pretend the scan happens well past the 2x hard-kill ceiling.
	w.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	w.Scan()

	if st.Status() != task.StatusFailed {
		t.Fatalf("status = %s, want failed", st.Status())
	}
	if !st.Cancelled() {
		t.Error("cancel signal not fired")
	}
	res := st.Result()
	if res == nil || res.Outcome != task.OutcomeFailure {
		t.Fatalf("result = %+v", res)
	}
	events := log.EventsFor("runaway")
	if len(events) != 2 || events[0].Action != "watchdog.force_kill" || events[1].Action != "task.failed" {
		t.Fatalf("audit events = %+v", events)
	}
	if events[0].Meta["limit_ms"] != int64(120000) {
		t.Errorf("limit_ms = %v", events[0].Meta["limit_ms"])
	}

	// A second scan must not touch the already-terminal task.
	w.Scan()
	if got := len(log.EventsFor("runaway")); got != 2 {
		t.Errorf("force_kill events recorded twice: %d total", got)
	}
}

func TestWatchdogLeavesHealthyTasksAlone(t *testing.T) {
	store := task.NewStore()
	w := NewWatchdog(store, audit.New(nil), time.Second, nil)

	st := runningState(t, store, "healthy", 3600)
	w.Scan()

	if st.Status() != task.StatusRunning {
		t.Errorf("status = %s, want running", st.Status())
	}
	if st.Cancelled() {
		t.Error("healthy task was cancelled")
	}
}

func TestWatchdogZombieIsDiagnosticOnly(t *testing.T) {
	store := task.NewStore()
	w := NewWatchdog(store, audit.New(nil), time.Second, nil)

	st := runningState(t, store, "zombie", 3600)
	st.MarkDone() // worker exited without a terminal transition
	w.Scan()

	// The watchdog warns but never rewrites status for zombies.
	if st.Status() != task.StatusRunning {
		t.Errorf("status = %s, watchdog must not rewrite zombie status", st.Status())
	}
}

func TestWatchdogStopWithoutStart(t *testing.T) {
	w := NewWatchdog(task.NewStore(), audit.New(nil), time.Second, nil)
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked with no loop running")
	}
}

func TestWatchdogStartStopIdempotent(t *testing.T) {
	store := task.NewStore()
	w := NewWatchdog(store, audit.New(nil), 10*time.Millisecond, nil)
	w.Start()
	w.Start() // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	w.Stop()

	// Stop must have joined the loop; a second Stop must not panic or hang.
	w.Stop()
}
