// Package audit provides the append-only in-memory event trail for tasks.
// Every recorded event is also emitted as a structured log line.
package audit

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
)

// Event is a single audit entry. Action tags are dotted names such as
// "task.started" or "watchdog.force_kill".
type Event struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Log is an append-only event recorder. Safe for concurrent use; recording
// never fails and never panics out to the caller.
type Log struct {
	mu     sync.Mutex
	events []Event
	logger hclog.Logger
}

// New creates an empty audit log.
func New(logger hclog.Logger) *Log {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Log{logger: logger.Named("audit")}
}

// Record appends an event and emits a structured log line with all fields.
func (l *Log) Record(action string, taskID string, meta map[string]any) {
	defer func() {
		// Recording is infallible by contract; a panic here (e.g. from a
		// logger sink) must not reach task workers.
		_ = recover()
	}()

	ev := Event{
		ID:        ulid.Make().String(),
		Action:    action,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Meta:      meta,
	}

	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()

	args := []any{"event_id", ev.ID, "task_id", taskID}
	for k, v := range meta {
		args = append(args, k, v)
	}
	l.logger.Info(action, args...)
}

// EventsFor returns a snapshot of all events recorded for the given task id,
// in append order.
func (l *Log) EventsFor(taskID string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

// All returns a snapshot of every recorded event.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Clear drops all recorded events. Intended for test isolation.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}
