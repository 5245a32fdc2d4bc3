package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesExitAndOutput(t *testing.T) {
	res := Run(context.Background(), Spec{Argv: []string{"sh", "-c", "echo out; echo err >&2; exit 3"}})
	if res.ExitCode != 3 {
		t.Errorf("exit = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.TimedOut || res.Canceled {
		t.Error("clean exit flagged as timeout/cancel")
	}
}

func TestRunMissingBinary(t *testing.T) {
	res := Run(context.Background(), Spec{Argv: []string{"definitely-not-a-real-binary-xyz"}})
	if res.ExitCode != ExitCodeNotFound {
		t.Errorf("exit = %d, want %d", res.ExitCode, ExitCodeNotFound)
	}
	want := "Command not found: definitely-not-a-real-binary-xyz"
	if res.Stderr != want {
		t.Errorf("stderr = %q, want %q", res.Stderr, want)
	}
}

func TestRunStdin(t *testing.T) {
	res := Run(context.Background(), Spec{Argv: []string{"cat"}, Stdin: "hello stdin"})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "hello stdin" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestRunTimeout(t *testing.T) {
	start := time.Now()
	res := Run(context.Background(), Spec{Argv: []string{"sleep", "30"}, Timeout: 200 * time.Millisecond})
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if res.Canceled {
		t.Error("Canceled set on timeout")
	}
	// SIGTERM kills sleep immediately; the grace SIGKILL path must not be
	// what bounds this.
	if elapsed := time.Since(start); elapsed > 8*time.Second {
		t.Errorf("run took %v", elapsed)
	}
}

func TestRunCancel(t *testing.T) {
	cancel := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(cancel)
	}()
	res := Run(context.Background(), Spec{Argv: []string{"sleep", "30"}, Cancel: cancel})
	if !res.Canceled {
		t.Error("Canceled not set")
	}
	if res.TimedOut {
		t.Error("TimedOut set on cancel")
	}
}

func TestRunEnvOverride(t *testing.T) {
	t.Setenv("SUPERVISOR_TEST_VAR", "base")
	res := Run(context.Background(), Spec{
		Argv: []string{"sh", "-c", "printf '%s' \"$SUPERVISOR_TEST_VAR\""},
		Env:  map[string]string{"SUPERVISOR_TEST_VAR": "override"},
	})
	if res.Stdout != "override" {
		t.Errorf("stdout = %q, want override", res.Stdout)
	}
}

func TestRunBoundedCapture(t *testing.T) {
	res := Run(context.Background(), Spec{Argv: []string{"sh", "-c", "yes x | head -c 200000"}})
	if len(res.Stdout) > CaptureLimit {
		t.Errorf("captured %d bytes, limit %d", len(res.Stdout), CaptureLimit)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2", "MALFORMED"}
	got := MergeEnv(base, map[string]string{"B": "20", "C": "3"})
	want := []string{"A=1", "B=20", "MALFORMED", "C=3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTail(t *testing.T) {
	if got := Tail("short", 100); got != "short" {
		t.Errorf("no-truncation tail = %q", got)
	}
	long := strings.Repeat("a", 50) + "ZZZ"
	got := Tail(long, 3)
	if got != TruncationMarker+"ZZZ" {
		t.Errorf("tail = %q", got)
	}
}
