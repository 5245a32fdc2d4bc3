package task

import (
	"errors"
	"testing"
)

func validTask(id string) *Task {
	t := &Task{
		ID:          id,
		RepoURL:     "https://example.com/org/repo.git",
		Branch:      "b1",
		Instruction: "fix add()",
	}
	t.Normalize()
	return t
}

func TestNormalizeDefaults(t *testing.T) {
	tk := &Task{ID: "t1", RepoURL: "u", Branch: "b", Instruction: "i", RiskTier: "bogus", Complexity: "??"}
	tk.Normalize()
	if tk.BaseBranch != "main" {
		t.Errorf("base branch = %q", tk.BaseBranch)
	}
	if tk.RiskTier != "medium" {
		t.Errorf("risk tier = %q, want medium on invalid input", tk.RiskTier)
	}
	if tk.Complexity != "standard" {
		t.Errorf("complexity = %q", tk.Complexity)
	}
	if tk.MaxTurns != 40 || tk.TimeoutSeconds != 3600 {
		t.Errorf("turns=%d timeout=%d", tk.MaxTurns, tk.TimeoutSeconds)
	}
	if tk.SandboxImage != DefaultSandboxImage {
		t.Errorf("sandbox image = %q", tk.SandboxImage)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Task)
		ok   bool
	}{
		{"valid", func(*Task) {}, true},
		{"empty id", func(tk *Task) { tk.ID = "" }, false},
		{"bad id chars", func(tk *Task) { tk.ID = "a b/c" }, false},
		{"missing repo", func(tk *Task) { tk.RepoURL = "" }, false},
		{"missing branch", func(tk *Task) { tk.Branch = "" }, false},
		{"missing description", func(tk *Task) { tk.Instruction = "  " }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tk := validTask("t-1_X")
			tc.mut(tk)
			err := tk.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStateMachineLegalPath(t *testing.T) {
	st := NewState(validTask("t1"))
	if st.Status() != StatusPending {
		t.Fatalf("initial = %s", st.Status())
	}
	for _, next := range []Status{StatusRunning, StatusCommitting} {
		if err := st.Transition(next); err != nil {
			t.Fatalf("%s: %v", next, err)
		}
	}
	if err := st.Finish(&Result{TaskID: "t1", Outcome: OutcomeSuccess}); err != nil {
		t.Fatal(err)
	}
	if st.Status() != StatusComplete {
		t.Errorf("status = %s", st.Status())
	}
	if st.Result() == nil {
		t.Error("result not recorded")
	}
}

func TestNoRegression(t *testing.T) {
	st := NewState(validTask("t1"))
	if err := st.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := st.Transition(StatusPending); err == nil {
		t.Error("running -> pending must be refused")
	}
	if err := st.Transition(StatusRunning); err == nil {
		t.Error("running -> running must be refused")
	}
}

func TestTerminalIsFinal(t *testing.T) {
	st := NewState(validTask("t1"))
	if err := st.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := st.Finish(&Result{Outcome: OutcomeFailure}); err != nil {
		t.Fatal(err)
	}
	err := st.Finish(&Result{Outcome: OutcomeSuccess})
	if !errors.Is(err, ErrTerminal) {
		t.Errorf("second Finish = %v, want ErrTerminal", err)
	}
	if st.Result().Outcome != OutcomeFailure {
		t.Error("result was overwritten")
	}
	if err := st.Transition(StatusCommitting); !errors.Is(err, ErrTerminal) {
		t.Errorf("transition out of terminal = %v", err)
	}
}

func TestStartedAtSetOnceRunning(t *testing.T) {
	st := NewState(validTask("t1"))
	if _, ok := st.StartedAt(); ok {
		t.Error("startedAt set before running")
	}
	if err := st.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if _, ok := st.StartedAt(); !ok {
		t.Error("startedAt not set on running")
	}
}

func TestPendingCancel(t *testing.T) {
	st := NewState(validTask("t1"))
	st.Cancel()
	st.Cancel() // idempotent
	if !st.Cancelled() {
		t.Error("cancel signal not sticky")
	}
	if err := st.Finish(&Result{Outcome: OutcomeCancelled}); err != nil {
		t.Fatal(err)
	}
	if st.Status() != StatusCancelled {
		t.Errorf("status = %s", st.Status())
	}
}

func TestStoreCreateIfAbsent(t *testing.T) {
	s := NewStore()
	if _, err := s.CreateIfAbsent(validTask("t1")); err != nil {
		t.Fatal(err)
	}
	_, err := s.CreateIfAbsent(validTask("t1"))
	if !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create = %v, want ErrExists", err)
	}
}

func TestStoreCountActive(t *testing.T) {
	s := NewStore()
	a, _ := s.CreateIfAbsent(validTask("a"))
	b, _ := s.CreateIfAbsent(validTask("b"))
	if _, err := s.CreateIfAbsent(validTask("c")); err != nil {
		t.Fatal(err)
	}
	if err := a.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := b.Transition(StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := b.Transition(StatusCommitting); err != nil {
		t.Fatal(err)
	}
	if got := s.CountActive(); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}
	if got := len(s.Snapshot()); got != 3 {
		t.Errorf("snapshot = %d, want 3", got)
	}
	s.Delete("c")
	if _, ok := s.Get("c"); ok {
		t.Error("delete did not remove state")
	}
}
