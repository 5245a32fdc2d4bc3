// Package supervisor launches engine subprocesses, captures bounded output,
// and enforces the soft timeout and cooperative cancellation with a
// terminate-then-kill escalation.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/armon/circbuf"

	"github.com/lailatov/runner/internal/procutil"
)

// CaptureLimit bounds how much of each stream is retained. Terminal results
// only ever carry tails, never full output.
const CaptureLimit = 64 * 1024

// graceTimeout is how long a child gets between SIGTERM and SIGKILL.
const graceTimeout = 5 * time.Second

// ExitCodeNotFound is the sentinel return code when the binary is missing.
const ExitCodeNotFound = -1

// Spec describes one child process run.
type Spec struct {
	// Argv is the full argument vector; Argv[0] is the executable. No shell
	// is ever involved.
	Argv []string
	// Dir is the working directory.
	Dir string
	// Env entries are merged over the current process environment.
	Env map[string]string
	// Timeout is the soft deadline; zero means no timeout.
	Timeout time.Duration
	// Stdin, when non-empty, is fed to the child.
	Stdin string
	// Cancel, when it fires, triggers terminate-then-kill.
	Cancel <-chan struct{}
}

// Result is the outcome of a supervised run. A missing binary is reported
// here (ExitCodeNotFound plus a diagnostic on Stderr), never as an error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	Canceled bool
}

// Run launches the child and waits for exit, soft timeout, or cancellation
// (the Cancel channel or ctx), whichever comes first. Timeout and cancel both
// send SIGTERM to the child's process group, wait the grace period, then
// SIGKILL.
func Run(ctx context.Context, spec Spec) Result {
	start := time.Now()

	if len(spec.Argv) == 0 {
		return Result{ExitCode: ExitCodeNotFound, Stderr: "Command not found: <empty argv>"}
	}
	if _, err := exec.LookPath(spec.Argv[0]); err != nil {
		return Result{
			ExitCode: ExitCodeNotFound,
			Stderr:   fmt.Sprintf("Command not found: %s", spec.Argv[0]),
			Duration: time.Since(start),
		}
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	// Own process group so terminate/kill reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	} else {
		// Avoid interactive reads if the CLI tries stdin for confirmations.
		cmd.Stdin = strings.NewReader("")
	}

	stdout, _ := circbuf.NewBuffer(CaptureLimit)
	stderr, _ := circbuf.NewBuffer(CaptureLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode: ExitCodeNotFound,
			Stderr:   fmt.Sprintf("Command not found: %s", spec.Argv[0]),
			Duration: time.Since(start),
		}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	res := Result{}
	select {
	case <-waitCh:
		// Normal exit.
	case <-timeoutCh:
		res.TimedOut = true
		escalate(cmd, waitCh)
	case <-cancelChan(spec.Cancel):
		res.Canceled = true
		escalate(cmd, waitCh)
	case <-ctx.Done():
		res.Canceled = true
		escalate(cmd, waitCh)
	}

	res.Duration = time.Since(start)
	res.ExitCode = -1
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	res.Stdout = strings.ToValidUTF8(stdout.String(), "�")
	res.Stderr = strings.ToValidUTF8(stderr.String(), "�")
	return res
}

// cancelChan turns a nil channel into one that never fires.
func cancelChan(c <-chan struct{}) <-chan struct{} {
	if c != nil {
		return c
	}
	return make(chan struct{})
}

// escalate sends SIGTERM, waits the grace period, then SIGKILLs the process
// group, and finally waits for the reaper goroutine.
func escalate(cmd *exec.Cmd, waitCh <-chan error) {
	_ = killProcessGroup(cmd, syscall.SIGTERM)
	select {
	case <-waitCh:
		return
	case <-time.After(graceTimeout):
	}
	_ = killProcessGroup(cmd, syscall.SIGKILL)
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		// SIGKILL is not ignorable; if the wait still hangs the child is in
		// uninterruptible sleep and there is nothing more to do. Verify the
		// pid is at least not runnable anymore before giving up.
		if cmd.Process != nil && procutil.PIDAlive(cmd.Process.Pid) {
			_ = killProcessGroup(cmd, syscall.SIGKILL)
		}
	}
}

func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// MergeEnv merges override key/values over a base environment, preserving
// the base ordering and appending new keys sorted last.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	used := map[string]bool{}
	for _, entry := range base {
		key := entry
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			key = entry[:idx]
		}
		if v, ok := overrides[key]; ok {
			out = append(out, key+"="+v)
			used[key] = true
			continue
		}
		out = append(out, entry)
	}
	remaining := make([]string, 0, len(overrides))
	for k := range overrides {
		if !used[k] {
			remaining = append(remaining, k)
		}
	}
	sortStrings(remaining)
	for _, k := range remaining {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// TruncationMarker prefixes tails that lost leading content.
const TruncationMarker = "...[truncated]...\n"

// Tail returns the last n characters of s, prefixed with a marker when
// truncation occurred.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return TruncationMarker + s[len(s)-n:]
}
