package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lailatov/runner/internal/supervisor"
	"github.com/lailatov/runner/internal/task"
)

// resultTailChars bounds the stdout/stderr tails carried in results.
const resultTailChars = 2000

// invocation is one fully assembled engine command.
type invocation struct {
	engine string
	model  string
	argv   []string
	stdin  string
	env    map[string]string
}

// outputParser extracts cost and turn count from an engine's stdout. Both
// default to zero when the engine does not report them.
type outputParser func(stdout string) (costUSD float64, numTurns int)

// execute is the shared adapter core: guard, sandbox wrap, supervised run,
// parse, and outcome mapping.
func execute(ctx context.Context, req RunRequest, inv invocation, parse outputParser) *task.Result {
	if strings.TrimSpace(req.WorkspaceDir) == "" {
		return failureResult(req.Task, inv, "no workspace path on task; pipeline did not prepare one")
	}

	argv := inv.argv
	env := mergeTaskEnv(inv.env, req.Task.EnvVars)
	if req.Task.SandboxMode {
		// The wrapper forwards env via explicit flags; nothing is inherited.
		argv = sandboxArgv(argv, req.WorkspaceDir, req.Task.SandboxImage, env)
		env = nil
	}

	res := supervisor.Run(ctx, supervisor.Spec{
		Argv:    argv,
		Dir:     req.WorkspaceDir,
		Env:     env,
		Timeout: req.Task.Timeout(),
		Stdin:   inv.stdin,
		Cancel:  req.Cancel,
	})

	cost, turns := 0.0, 0
	if parse != nil {
		cost, turns = parse(res.Stdout)
	}

	out := &task.Result{
		TaskID:     req.Task.ID,
		Engine:     inv.engine,
		Model:      inv.model,
		CostUSD:    cost,
		NumTurns:   turns,
		DurationMS: res.Duration.Milliseconds(),
		StdoutTail: supervisor.Tail(res.Stdout, resultTailChars),
		StderrTail: supervisor.Tail(res.Stderr, resultTailChars),
	}
	switch {
	case res.TimedOut:
		out.Outcome = task.OutcomeTimeout
		out.ErrorMessage = fmt.Sprintf("engine %s exceeded %s timeout", inv.engine, req.Task.Timeout())
	case res.Canceled:
		out.Outcome = task.OutcomeCancelled
		out.ErrorMessage = "task cancelled during engine execution"
	case res.ExitCode == 0:
		out.Outcome = task.OutcomeSuccess
	default:
		out.Outcome = task.OutcomeFailure
		out.ErrorMessage = fmt.Sprintf("engine %s exited with code %d", inv.engine, res.ExitCode)
	}
	return out
}

// failureResult builds the immediate failure an adapter returns for
// programmer errors like a missing workspace.
func failureResult(t *task.Task, inv invocation, msg string) *task.Result {
	return &task.Result{
		TaskID:       t.ID,
		Outcome:      task.OutcomeFailure,
		Engine:       inv.engine,
		Model:        inv.model,
		ErrorMessage: msg,
	}
}

// buildPrompt assembles the engine prompt from the task's instruction and,
// when present, its constitution preamble.
func buildPrompt(t *task.Task) string {
	var b strings.Builder
	if c := strings.TrimSpace(t.Constitution); c != "" {
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	if title := strings.TrimSpace(t.Title); title != "" {
		b.WriteString("Task: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(t.Instruction))
	return b.String()
}

// forwardEnv copies the named variables from the runner's environment,
// skipping unset ones. Adapters forward only the keys their engine needs.
func forwardEnv(keys ...string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	return out
}

// mergeTaskEnv overlays task-supplied variables on the engine's own set.
// Task values win.
func mergeTaskEnv(engineEnv, taskEnv map[string]string) map[string]string {
	out := make(map[string]string, len(engineEnv)+len(taskEnv))
	for k, v := range engineEnv {
		out[k] = v
	}
	for k, v := range taskEnv {
		out[k] = v
	}
	return out
}
