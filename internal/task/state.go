package task

import (
	"fmt"
	"sync"
	"time"
)

// ErrTerminal is returned when a transition is attempted out of a terminal
// status.
var ErrTerminal = fmt.Errorf("task is in a terminal state")

// State is the mutable runtime record for one task. All mutations are
// serialised by the per-state mutex.
type State struct {
	Task *Task

	mu            sync.Mutex
	status        Status
	result        *Result
	workspacePath string
	startedAt     time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}

	doneOnce sync.Once
	doneCh   chan struct{}
}

// NewState creates a pending state for a task.
func NewState(t *Task) *State {
	return &State{
		Task:     t,
		status:   StatusPending,
		cancelCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves the task along a legal status edge. Illegal edges are
// refused; transitions out of terminal states return ErrTerminal.
func (s *State) Transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *State) transitionLocked(to Status) error {
	if s.status.Terminal() {
		return fmt.Errorf("%w: %s -> %s refused", ErrTerminal, s.status, to)
	}
	if !canTransition(s.status, to) {
		return fmt.Errorf("illegal transition %s -> %s", s.status, to)
	}
	if to == StatusRunning && s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	s.status = to
	return nil
}

// Finish atomically transitions to the terminal status implied by the
// result's outcome and freezes the result. It is the only way a result is
// recorded; once set it never changes.
func (s *State) Finish(r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(statusFor(r.Outcome)); err != nil {
		return err
	}
	s.result = r
	return nil
}

// Result returns the frozen result, or nil before the terminal transition.
func (s *State) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SetWorkspace records the workspace path for this task.
func (s *State) SetWorkspace(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspacePath = path
}

// Workspace returns the recorded workspace path, if any.
func (s *State) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspacePath
}

// StartedAt returns the time the task entered running, and whether it ever
// did.
func (s *State) StartedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt, !s.startedAt.IsZero()
}

// Cancel sets the cancellation signal. It is edge-triggered and sticky:
// calling it more than once is harmless.
func (s *State) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// CancelSignal is the channel workers and the supervisor select on.
func (s *State) CancelSignal() <-chan struct{} {
	return s.cancelCh
}

// Cancelled reports whether the cancel signal has fired.
func (s *State) Cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// MarkDone is called by the worker goroutine as it exits.
func (s *State) MarkDone() {
	s.doneOnce.Do(func() { close(s.doneCh) })
}

// Done is closed once the worker has exited.
func (s *State) Done() <-chan struct{} {
	return s.doneCh
}

// WorkerDone reports whether the worker goroutine has exited.
func (s *State) WorkerDone() bool {
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}
