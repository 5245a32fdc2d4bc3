// Package runner contains the per-task execution pipeline and the watchdog
// that reaps runaway workers.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zeebo/blake3"

	"github.com/lailatov/runner/internal/audit"
	"github.com/lailatov/runner/internal/breaker"
	"github.com/lailatov/runner/internal/budget"
	"github.com/lailatov/runner/internal/callback"
	"github.com/lailatov/runner/internal/engine"
	"github.com/lailatov/runner/internal/ghcred"
	"github.com/lailatov/runner/internal/metrics"
	"github.com/lailatov/runner/internal/task"
	"github.com/lailatov/runner/internal/workspace"
)

const (
	agentCoAuthor = "Co-authored-by: Lailatov Agent <agent@lailatov.dev>"

	// statusChangedEvent names the non-terminal lifecycle callback; terminal
	// callbacks carry the event of the final status ("task.complete" etc).
	statusChangedEvent = "task.status_changed"

	callbackTimeout = 15 * time.Second
)

// callbackEnvelope is the body of every lifecycle POST. Result is present
// only on terminal events.
type callbackEnvelope struct {
	Event  string       `json:"event"`
	TaskID string       `json:"task_id"`
	Status string       `json:"status"`
	Result *task.Result `json:"result,omitempty"`
}

// Executor threads one task through prepare, engine execution, commit/push,
// and finalisation. All tasks run in parallel; the only cross-task state is
// the shared breaker registry.
type Executor struct {
	store    *task.Store
	audit    *audit.Log
	breakers *breaker.Registry
	ws       *workspace.Manager
	engines  *engine.Registry
	notifier *callback.Notifier
	creds    *ghcred.Issuer
	logger   hclog.Logger
}

// NewExecutor wires an executor. notifier and creds may be nil when callbacks
// or GitHub App credentials are not in play (tests, anonymous setups).
func NewExecutor(
	store *task.Store,
	auditLog *audit.Log,
	breakers *breaker.Registry,
	ws *workspace.Manager,
	engines *engine.Registry,
	notifier *callback.Notifier,
	creds *ghcred.Issuer,
	logger hclog.Logger,
) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{
		store:    store,
		audit:    auditLog,
		breakers: breakers,
		ws:       ws,
		engines:  engines,
		notifier: notifier,
		creds:    creds,
		logger:   logger.Named("executor"),
	}
}

// Launch starts the background worker for a task. It returns immediately.
func (e *Executor) Launch(st *task.State) {
	go e.run(st)
}

func (e *Executor) run(st *task.State) {
	defer st.MarkDone()
	t := st.Task

	// Cancel observed before the worker got going.
	if st.Cancelled() {
		e.finish(st, &task.Result{
			TaskID:       t.ID,
			Outcome:      task.OutcomeCancelled,
			ErrorMessage: "task cancelled before execution started",
		})
		return
	}

	// runCtx covers prepare and engine execution; a cancel signal tears it
	// down immediately so even a slow clone is interrupted.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		select {
		case <-st.CancelSignal():
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	if err := st.Transition(task.StatusRunning); err != nil {
		e.logger.Warn("worker could not enter running", "task_id", t.ID, "error", err)
		return
	}
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()
	e.audit.Record("task.started", t.ID, map[string]any{
		"repo":   t.RepoURL,
		"branch": t.Branch,
	})
	e.notifyStatus(t, task.StatusRunning)

	// Prepare. A static token on the task wins; otherwise a short-lived one
	// is minted best-effort and "" means anonymous access.
	token := t.GitHubToken
	if token == "" && e.creds != nil {
		token = e.creds.Token(runCtx)
	}
	ws, err := e.ws.Prepare(runCtx, t, token)
	if err != nil {
		if st.Cancelled() {
			e.finish(st, &task.Result{
				TaskID:       t.ID,
				Outcome:      task.OutcomeCancelled,
				ErrorMessage: "task cancelled during workspace preparation",
			})
			return
		}
		e.finish(st, &task.Result{
			TaskID:       t.ID,
			Outcome:      task.OutcomeFailure,
			ErrorMessage: fmt.Sprintf("workspace preparation failed: %v", err),
		})
		return
	}
	st.SetWorkspace(ws.Root)
	defer e.ws.Cleanup(t.ID)

	// Select and gate the engine.
	adapter := e.engines.Select(t)
	br := e.breakers.Get(adapter.Name())
	if err := br.Allow(); err != nil {
		e.audit.Record("task.circuit_open", t.ID, map[string]any{
			"engine": adapter.Name(),
		})
		e.finish(st, &task.Result{
			TaskID:       t.ID,
			Outcome:      task.OutcomeFailure,
			Engine:       adapter.Name(),
			ErrorMessage: err.Error(),
		})
		return
	}

	// Execute under a per-task budget.
	tracker := budget.NewTracker(t.MaxCostUSD)
	res := adapter.Run(runCtx, engine.RunRequest{
		Task:         t,
		WorkspaceDir: ws.RepoDir,
		OutputDir:    ws.OutputDir,
		Cancel:       st.CancelSignal(),
	})
	metrics.EngineRuns.WithLabelValues(res.Engine, string(res.Outcome)).Inc()

	// The breaker judges the engine on its own outcome; a later budget
	// rewrite must not count against it, and timeouts and cancels say
	// nothing about the engine's health.
	switch res.Outcome {
	case task.OutcomeSuccess:
		br.RecordSuccess()
	case task.OutcomeFailure:
		br.RecordFailure()
	}

	if res.CostUSD > 0 {
		tracker.Record(res.CostUSD)
		if err := tracker.Check(); err != nil {
			e.audit.Record("task.budget_exceeded", t.ID, map[string]any{
				"spent": tracker.Spent(),
				"limit": t.MaxCostUSD,
			})
			res.Outcome = task.OutcomeFailure
			res.ErrorMessage = err.Error()
		}
	}

	// Commit and push only a successful run's changes. Committing gets its
	// own context so a late cancel cannot abort a half-done push.
	if res.Outcome == task.OutcomeSuccess {
		e.commitAndPush(context.Background(), st, ws, res)
	}

	e.finish(st, res)
}

// commitAndPush stages, commits, and pushes the working branch. An empty
// index is still a success with no commit. Push failure is surfaced but does
// not fail the task; commit errors do.
func (e *Executor) commitAndPush(ctx context.Context, st *task.State, ws *workspace.Workspace, res *task.Result) {
	t := st.Task
	if err := st.Transition(task.StatusCommitting); err != nil {
		// Terminal already (watchdog or cancel won the race); leave the
		// workspace alone and let finish sort it out.
		return
	}
	e.notifyStatus(t, task.StatusCommitting)

	sha, err := e.ws.Commit(ctx, ws.RepoDir, commitMessage(t, res))
	if err != nil {
		res.Outcome = task.OutcomeFailure
		res.ErrorMessage = fmt.Sprintf("commit failed: %v", err)
		return
	}
	if sha == "" {
		e.logger.Info("no changes to commit", "task_id", t.ID)
		return
	}
	res.CommitSHA = sha
	res.FilesChanged = e.ws.ChangedFiles(ctx, ws.RepoDir, t.BaseBranch)

	if err := e.ws.Push(ctx, ws.RepoDir, t.Branch); err != nil {
		e.logger.Warn("push failed", "task_id", t.ID, "branch", t.Branch, "error", err)
		res.Pushed = false
		return
	}
	res.Pushed = true
}

// finish records the terminal transition exactly once. Losing the race to
// the watchdog or a cancel is not an error; the first terminal result wins
// and this invocation backs off quietly.
func (e *Executor) finish(st *task.State, res *task.Result) {
	t := st.Task
	if res.TaskID == "" {
		res.TaskID = t.ID
	}
	if err := st.Finish(res); err != nil {
		e.logger.Debug("terminal transition already taken", "task_id", t.ID, "error", err)
		return
	}

	status := task.StatusFor(res.Outcome)
	metrics.TasksTotal.WithLabelValues(string(status)).Inc()
	e.audit.Record("task."+string(status), t.ID, map[string]any{
		"outcome":     string(res.Outcome),
		"engine":      res.Engine,
		"cost_usd":    res.CostUSD,
		"duration_ms": res.DurationMS,
		"commit_sha":  res.CommitSHA,
		"stdout_hash": fingerprint(res.StdoutTail),
		"stderr_hash": fingerprint(res.StderrTail),
	})
	if e.notifier != nil && t.CallbackURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		e.notifier.Post(ctx, t.CallbackURL, callbackEnvelope{
			Event:  "task." + string(status),
			TaskID: t.ID,
			Status: string(status),
			Result: res,
		})
	}
}

// notifyStatus posts a task.status_changed lifecycle event, best-effort.
func (e *Executor) notifyStatus(t *task.Task, status task.Status) {
	if e.notifier == nil || t.CallbackURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	e.notifier.Post(ctx, t.CallbackURL, callbackEnvelope{
		Event:  statusChangedEvent,
		TaskID: t.ID,
		Status: string(status),
	})
}

// commitMessage builds the deterministic commit message for a task's
// changes.
func commitMessage(t *task.Task, res *task.Result) string {
	subject := t.Title
	if subject == "" {
		subject = "Agent changes for task " + t.ID
	}
	return fmt.Sprintf("%s\n\nTask-Id: %s\nEngine: %s\nModel: %s\n\n%s",
		subject, t.ID, res.Engine, res.Model, agentCoAuthor)
}

// fingerprint hashes an output tail for the audit trail; tails themselves
// stay out of audit metadata.
func fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:8])
}
