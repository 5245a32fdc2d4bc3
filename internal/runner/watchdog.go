package runner

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/lailatov/runner/internal/audit"
	"github.com/lailatov/runner/internal/metrics"
	"github.com/lailatov/runner/internal/task"
)

// HardKillMultiplier scales a task's own timeout into the watchdog's
// hard-kill ceiling. The supervisor should have ended the run long before
// this fires; the watchdog is the backstop for a stuck worker.
const HardKillMultiplier = 2

// DefaultCheckInterval is the watchdog scan period.
const DefaultCheckInterval = 30 * time.Second

// Watchdog periodically scans the task store for runaway or zombie tasks.
type Watchdog struct {
	store    *task.Store
	audit    *audit.Log
	interval time.Duration
	logger   hclog.Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatchdog creates a watchdog over the given store.
func NewWatchdog(store *task.Store, auditLog *audit.Log, interval time.Duration, logger hclog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watchdog{
		store:    store,
		audit:    auditLog,
		interval: interval,
		logger:   logger.Named("watchdog"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the scan loop. Calling it again is a no-op.
func (w *Watchdog) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.loop()
	})
}

// Stop ends the scan loop and waits for it to exit. Safe to call whether or
// not the loop was ever started.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.started.Load() {
		<-w.doneCh
	}
}

func (w *Watchdog) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Scan()
		case <-w.stopCh:
			return
		}
	}
}

// Scan inspects every running task once. Exported so tests can drive ticks
// deterministically.
func (w *Watchdog) Scan() {
	now := w.now()
	for _, st := range w.store.Snapshot() {
		if st.Status() != task.StatusRunning {
			continue
		}
		started, ok := st.StartedAt()
		if !ok {
			continue
		}

		limit := time.Duration(HardKillMultiplier) * st.Task.Timeout()
		if elapsed := now.Sub(started); elapsed > limit {
			w.forceKill(st, elapsed, limit)
			continue
		}

		// A finished worker that never drove the state to terminal points at
		// an executor bug; the watchdog flags it but does not rewrite status.
		if st.WorkerDone() {
			w.logger.Warn("zombie task: worker exited but status is still running",
				"task_id", st.Task.ID)
		}
	}
}

func (w *Watchdog) forceKill(st *task.State, elapsed, limit time.Duration) {
	st.Cancel()
	err := st.Finish(&task.Result{
		TaskID:  st.Task.ID,
		Outcome: task.OutcomeFailure,
		ErrorMessage: fmt.Sprintf("watchdog force-killed task after %s (limit %s)",
			elapsed.Round(time.Second), limit),
	})
	if err != nil {
		// The worker finalised between our status check and here.
		return
	}
	metrics.WatchdogKills.Inc()
	metrics.TasksTotal.WithLabelValues(string(task.StatusFailed)).Inc()
	w.audit.Record("watchdog.force_kill", st.Task.ID, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
		"limit_ms":   limit.Milliseconds(),
	})
	w.audit.Record("task.failed", st.Task.ID, map[string]any{
		"outcome": string(task.OutcomeFailure),
		"reason":  "watchdog.force_kill",
	})
	w.logger.Error("force-killed runaway task", "task_id", st.Task.ID,
		"elapsed", elapsed, "limit", limit)
}
