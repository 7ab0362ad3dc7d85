// Package transfer uploads flattened batches, assembles folder archives and
// tracks both as tasks in an observable queue.
package transfer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskKind distinguishes the two transfer operations.
type TaskKind string

const (
	KindUpload  TaskKind = "upload"
	KindArchive TaskKind = "archive"
)

// TaskState is the lifecycle of a task: pending -> running -> done | failed.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
)

// ErrInvalidTransition is returned for any edge outside the task state machine.
var ErrInvalidTransition = errors.New("invalid task state transition")

var allowedTransitions = map[TaskState]TaskState{
	TaskPending: TaskRunning,
}

// Task is one upload batch or one folder archive.
// Thread-safe: use the provided methods to update state.
type Task struct {
	ID             string
	Kind           TaskKind
	TargetFolderID string
	Name           string // Display name

	State    TaskState
	Progress int // 0 to 100, never decreases
	Error    error

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu sync.RWMutex
}

// NewTask creates a pending task.
func NewTask(kind TaskKind, targetFolderID, name string) *Task {
	return &Task{
		ID:             uuid.NewString(),
		Kind:           kind,
		TargetFolderID: targetFolderID,
		Name:           name,
		State:          TaskPending,
		CreatedAt:      time.Now(),
	}
}

// Transition moves the task to state to. Only pending->running and
// running->{done, failed} are accepted. err is recorded on failure.
func (t *Task) Transition(to TaskState, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok := false
	switch t.State {
	case TaskPending:
		ok = allowedTransitions[TaskPending] == to
	case TaskRunning:
		ok = to == TaskDone || to == TaskFailed
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}

	t.State = to
	now := time.Now()
	switch to {
	case TaskRunning:
		t.StartedAt = now
	case TaskDone:
		t.Progress = 100
		t.CompletedAt = now
	case TaskFailed:
		t.Error = err
		t.CompletedAt = now
	}
	return nil
}

// SetProgress records p if the task is running and p exceeds the current
// value. Values are clamped to 0..100. It reports whether anything changed.
func (t *Task) SetProgress(p int) bool {
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != TaskRunning || p <= t.Progress {
		return false
	}
	t.Progress = p
	return true
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() TaskState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// GetProgress returns current progress (thread-safe).
func (t *Task) GetProgress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Progress
}

// GetError returns the failure cause if any (thread-safe).
func (t *Task) GetError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Error
}

// IsTerminal reports whether the task is done or failed.
func (t *Task) IsTerminal() bool {
	s := t.GetState()
	return s == TaskDone || s == TaskFailed
}

// Clone returns a copy of the task for safe external use.
func (t *Task) Clone() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Task{
		ID:             t.ID,
		Kind:           t.Kind,
		TargetFolderID: t.TargetFolderID,
		Name:           t.Name,
		State:          t.State,
		Progress:       t.Progress,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
	}
}
