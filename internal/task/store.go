package task

import (
	"fmt"
	"sync"
)

// ErrExists is returned when a task id is already registered.
var ErrExists = fmt.Errorf("task already exists")

// Store is the process-wide task-id to state mapping. Map access is guarded
// by the store lock; per-task mutations are serialised by each State's own
// mutex.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*State
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*State)}
}

// CreateIfAbsent registers a new pending state for the task. Returns
// ErrExists without altering anything when the id is taken.
func (s *Store) CreateIfAbsent(t *Task) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	st := NewState(t)
	s.tasks[t.ID] = st
	return st, nil
}

// Get returns the state for a task id.
func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[id]
	return st, ok
}

// Delete removes a task's state record.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// CountActive returns the number of tasks in running or committing.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.tasks {
		if st.Status().Active() {
			n++
		}
	}
	return n
}

// Snapshot returns the current set of states. The slice is a copy; the
// states themselves are live.
func (s *Store) Snapshot() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*State, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, st)
	}
	return out
}
