package migration

import "sync"

// ActiveSet is a many-reader, many-writer map of volume name to in-progress
// Task. Per-key granularity is achieved by never holding the lock across
// I/O: callers insert, do their work without the lock held, then remove.
type ActiveSet struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewActiveSet returns an empty ActiveSet.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{tasks: make(map[string]*Task)}
}

// TryInsert attempts to claim volumeName for task. It returns false if a
// task for that volume is already active, enforcing the at-most-one-task-
// per-volume invariant.
func (s *ActiveSet) TryInsert(volumeName string, task *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[volumeName]; exists {
		return false
	}
	s.tasks[volumeName] = task
	return true
}

// Remove releases volumeName's claim.
func (s *ActiveSet) Remove(volumeName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, volumeName)
}

// Get returns the active task for volumeName, if any.
func (s *ActiveSet) Get(volumeName string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[volumeName]
	return t, ok
}

// Len returns the number of active tasks.
func (s *ActiveSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
