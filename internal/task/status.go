package task

import (
	"fmt"
	"strings"
)

// Status is the runtime state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCommitting Status = "committing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusTimedOut   Status = "timed_out"
)

// ParseStatus normalizes a status string.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "committing":
		return StatusCommitting, nil
	case "complete", "completed":
		return StatusComplete, nil
	case "failed", "fail", "failure":
		return StatusFailed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "timed_out", "timeout":
		return StatusTimedOut, nil
	default:
		return "", fmt.Errorf("invalid task status: %q", s)
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Active reports whether the task currently occupies a worker.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCommitting
}

// transitions enumerates every legal status edge. Statuses never regress
// and terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:    {StatusRunning, StatusCancelled},
	StatusRunning:    {StatusCommitting, StatusComplete, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCommitting: {StatusComplete, StatusFailed, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statusFor maps a terminal outcome onto the task status it implies.
func statusFor(o Outcome) Status {
	switch o {
	case OutcomeSuccess:
		return StatusComplete
	case OutcomeTimeout:
		return StatusTimedOut
	case OutcomeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// StatusFor exposes the outcome-to-status mapping.
func StatusFor(o Outcome) Status { return statusFor(o) }
