package transfer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/rescale-drive/internal/events"
)

// ErrTaskNotFound is returned for IDs the queue does not hold.
var ErrTaskNotFound = errors.New("task not found")

// RetryExecutor runs a task created by Retry.
// The task is already tracked in the queue in the pending state.
type RetryExecutor interface {
	ExecuteRetry(task *Task)
}

// QueueStats holds statistics about the transfer queue.
type QueueStats struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Total returns total number of tasks in queue.
func (s QueueStats) Total() int {
	return s.Pending + s.Running + s.Done + s.Failed
}

// Queue is a passive task tracker that publishes events for display.
// It does NOT execute transfers; the Uploader and Archiver report into it.
//
//   - Callers register tasks via Track()
//   - Start() moves a task to running
//   - UpdateProgress() records monotonic percent-complete
//   - Complete()/Fail() finish the task
//   - Retry() replaces a failed task with a fresh pending one
//   - Dismiss() removes a finished task
type Queue struct {
	tasks     []*Task
	tasksByID map[string]*Task
	mu        sync.RWMutex

	retryExecutor RetryExecutor
	eventBus      *events.EventBus
}

// NewQueue creates a new transfer queue with the specified event bus.
func NewQueue(eventBus *events.EventBus) *Queue {
	return &Queue{
		tasks:     make([]*Task, 0),
		tasksByID: make(map[string]*Task),
		eventBus:  eventBus,
	}
}

// SetRetryExecutor sets the executor that runs retried tasks.
func (q *Queue) SetRetryExecutor(executor RetryExecutor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryExecutor = executor
}

// Track registers a new pending task.
func (q *Queue) Track(kind TaskKind, targetFolderID, name string) *Task {
	task := NewTask(kind, targetFolderID, name)
	q.add(task)
	q.publish(events.EventTransferQueued, task)
	return task
}

func (q *Queue) add(task *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.tasksByID[task.ID] = task
	q.mu.Unlock()
}

func (q *Queue) get(taskID string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.tasksByID[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, nil
}

// move applies a state change to taskID and announces it as ev.
func (q *Queue) move(taskID string, to TaskState, cause error, ev events.EventType) error {
	task, err := q.get(taskID)
	if err != nil {
		return err
	}
	if err := task.Transition(to, cause); err != nil {
		return err
	}
	q.publish(ev, task)
	return nil
}

// Start moves a pending task to running.
func (q *Queue) Start(taskID string) error {
	return q.move(taskID, TaskRunning, nil, events.EventTransferStarted)
}

// UpdateProgress records progress for a running task. Values that do not
// exceed the last recorded one are ignored and publish nothing.
func (q *Queue) UpdateProgress(taskID string, progress int) {
	if task, err := q.get(taskID); err == nil && task.SetProgress(progress) {
		q.publish(events.EventTransferProgress, task)
	}
}

func (q *Queue) Complete(taskID string) error {
	return q.move(taskID, TaskDone, nil, events.EventTransferCompleted)
}

func (q *Queue) Fail(taskID string, cause error) error {
	return q.move(taskID, TaskFailed, cause, events.EventTransferFailed)
}

// Finish completes or fails a running task depending on cause.
func (q *Queue) Finish(taskID string, cause error) error {
	if cause != nil {
		return q.Fail(taskID, cause)
	}
	return q.Complete(taskID)
}

// Retry replaces a failed task with a fresh pending task of the same kind,
// target and name. The failed task is dismissed. If a RetryExecutor is set
// the new task is handed to it.
func (q *Queue) Retry(taskID string) (*Task, error) {
	q.mu.RLock()
	original, ok := q.tasksByID[taskID]
	executor := q.retryExecutor
	q.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if original.GetState() != TaskFailed {
		return nil, fmt.Errorf("task %s cannot be retried: state is %s", taskID, original.GetState())
	}

	fresh := q.Track(original.Kind, original.TargetFolderID, original.Name)
	if err := q.Dismiss(taskID); err != nil {
		return nil, err
	}

	if executor != nil {
		go executor.ExecuteRetry(fresh)
	}
	return fresh, nil
}

// Dismiss removes a done or failed task.
func (q *Queue) Dismiss(taskID string) error {
	q.mu.Lock()
	task, ok := q.tasksByID[taskID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !task.IsTerminal() {
		q.mu.Unlock()
		return fmt.Errorf("task %s is still %s", taskID, task.GetState())
	}
	delete(q.tasksByID, taskID)
	for i, t := range q.tasks {
		if t == task {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	q.mu.Unlock()

	q.publish(events.EventTransferDismissed, task)
	return nil
}

// ClearFinished dismisses all done and failed tasks.
func (q *Queue) ClearFinished() int {
	q.mu.RLock()
	ids := make([]string, 0)
	for _, task := range q.tasks {
		if task.IsTerminal() {
			ids = append(ids, task.ID)
		}
	}
	q.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if q.Dismiss(id) == nil {
			n++
		}
	}
	return n
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := QueueStats{}
	for _, task := range q.tasks {
		switch task.GetState() {
		case TaskPending:
			stats.Pending++
		case TaskRunning:
			stats.Running++
		case TaskDone:
			stats.Done++
		case TaskFailed:
			stats.Failed++
		}
	}
	return stats
}

// GetTasks returns a copy of all tasks in creation order.
func (q *Queue) GetTasks() []Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]Task, len(q.tasks))
	for i, task := range q.tasks {
		result[i] = task.Clone()
	}
	return result
}

// GetTask returns a copy of a specific task by ID.
func (q *Queue) GetTask(taskID string) (Task, bool) {
	task, err := q.get(taskID)
	if err != nil {
		return Task{}, false
	}
	return task.Clone(), true
}

func (q *Queue) publish(eventType events.EventType, task *Task) {
	if q == nil || q.eventBus == nil {
		return
	}
	snap := task.Clone()
	q.eventBus.Publish(&events.TransferEvent{
		BaseEvent:      events.BaseEvent{EventType: eventType, Time: time.Now()},
		TaskID:         snap.ID,
		TaskKind:       string(snap.Kind),
		TargetFolderID: snap.TargetFolderID,
		Name:           snap.Name,
		Progress:       snap.Progress,
		Error:          snap.Error,
	})
}
