package task

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a task. Transitions only move
// forward; a terminal status is never left.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusRunning:   1,
	StatusCompleted: 2,
	StatusFailed:    2,
	StatusTimedOut:  2,
	StatusCancelled: 2,
}

const maxProgressMessages = 200

// Task is an asynchronous, observable, cancellable unit of work owned
// by the Manager for its full life.
type Task struct {
	mu sync.Mutex

	id        string
	stage     string
	status    Status
	progress  []string
	result    any
	errMsg    string
	createdAt time.Time
	startedAt *time.Time
	endedAt   *time.Time

	cancel context.CancelFunc
	events *eventLog
}

func newTask(id, stage string, cancel context.CancelFunc, eventCapacity int) *Task {
	return &Task{
		id:        id,
		stage:     stage,
		status:    StatusQueued,
		createdAt: time.Now(),
		cancel:    cancel,
		events:    newEventLog(id, eventCapacity),
	}
}

// advance moves the task forward to the given status. It refuses
// backward moves and any change out of a terminal status, returning
// whether the transition was applied.
func (t *Task) advance(to Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.Terminal() {
		return false
	}
	if statusRank[to] < statusRank[t.status] {
		return false
	}
	if to == t.status {
		return false
	}

	t.status = to
	now := time.Now()
	switch {
	case to == StatusRunning:
		t.startedAt = &now
	case to.Terminal():
		t.endedAt = &now
	}
	return true
}

func (t *Task) addProgress(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = append(t.progress, message)
	if len(t.progress) > maxProgressMessages {
		t.progress = t.progress[len(t.progress)-maxProgressMessages:]
	}
}

func (t *Task) setResult(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = result
}

func (t *Task) setError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errMsg = message
}

// Snapshot is a point-in-time, read-only view of a task.
type Snapshot struct {
	ID        string     `json:"id"`
	Stage     string     `json:"stage"`
	Status    Status     `json:"status"`
	Progress  []string   `json:"progress,omitempty"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	LastSeq   uint64     `json:"last_seq"`
}

// Snapshot returns a consistent copy of the task's observable state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	progress := make([]string, len(t.progress))
	copy(progress, t.progress)

	return Snapshot{
		ID:        t.id,
		Stage:     t.stage,
		Status:    t.status,
		Progress:  progress,
		Result:    t.result,
		Error:     t.errMsg,
		CreatedAt: t.createdAt,
		StartedAt: t.startedAt,
		EndedAt:   t.endedAt,
		LastSeq:   t.events.LastSeq(),
	}
}

// StatusNow returns the current status without copying the rest.
func (t *Task) StatusNow() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}
