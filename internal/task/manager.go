package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"

	"sceneforge/internal/logging"
	"sceneforge/internal/observability"
)

// Work is the unit a task executes. It receives the task's context
// (cancelled on Cancel/Close), the task ID for scoping output paths,
// and a Reporter for progress emission. The returned value becomes the
// task's result payload; a returned error fails the task.
type Work func(ctx context.Context, taskID string, rep Reporter) (any, error)

// Reporter lets work publish ordered progress messages. It satisfies
// pipeline.Reporter so an orchestrator run can report directly.
type Reporter interface {
	Progress(message string)
}

// ErrTaskNotFound is returned for unknown or already-evicted task IDs.
var ErrTaskNotFound = errors.New("task not found")

// ErrManagerClosed is returned by Submit after Close.
var ErrManagerClosed = errors.New("task manager is closed")

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Workers         int           // bounded pool for the heavy stage
	EventBufferSize int           // per-task event ring capacity
	RetentionSize   int           // max terminal tasks kept for polling
	RetentionTTL    time.Duration // how long terminal tasks stay queryable
	TaskTimeout     time.Duration // optional whole-task deadline, 0 = none
	Logger          logging.Logger
	Metrics         *observability.MetricsCollector
}

func (c *ManagerConfig) applyDefaults() {
	if c.Workers < 1 {
		c.Workers = 2
	}
	if c.EventBufferSize < 1 {
		c.EventBufferSize = 256
	}
	if c.RetentionSize < 1 {
		c.RetentionSize = 512
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = 30 * time.Minute
	}
}

// Manager owns every task from submission to eviction. It is an
// explicitly constructed instance wired into the server lifecycle,
// never package-global state.
type Manager struct {
	mu       sync.RWMutex
	active   map[string]*Task
	retained *expirable.LRU[string, *Task]
	closed   bool

	sem     *semaphore.Weighted
	cfg     ManagerConfig
	logger  logging.Logger
	metrics *observability.MetricsCollector

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a Manager with a bounded worker pool and a
// bounded retention window for terminal tasks.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.applyDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Manager{
		active:     make(map[string]*Task),
		retained:   expirable.NewLRU[string, *Task](cfg.RetentionSize, nil, cfg.RetentionTTL),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		cfg:        cfg,
		logger:     logging.OrNop(cfg.Logger),
		metrics:    cfg.Metrics,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// Submit enqueues work and returns its task ID immediately. The work
// starts once a worker slot is free.
func (m *Manager) Submit(stage string, work Work) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}

	id := fmt.Sprintf("task-%s", uuid.New().String())

	var taskCtx context.Context
	var cancel context.CancelFunc
	if m.cfg.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(m.baseCtx, m.cfg.TaskTimeout)
	} else {
		taskCtx, cancel = context.WithCancel(m.baseCtx)
	}

	t := newTask(id, stage, cancel, m.cfg.EventBufferSize)
	m.active[id] = t
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("task %s submitted stage=%s", id, stage)
	go m.execute(taskCtx, t, work)
	return id, nil
}

// execute runs one task to its terminal state. Any panic inside the
// work is caught here; nothing escapes the task boundary.
func (m *Manager) execute(ctx context.Context, t *Task, work Work) {
	defer m.wg.Done()
	defer t.cancel()

	// Wait for a worker slot. Cancellation while queued resolves the
	// task without it ever entering Running.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finishInterrupted(ctx, t)
		return
	}
	defer m.sem.Release(1)

	if !t.advance(StatusRunning) {
		// Cancelled while queued; Cancel already emitted the terminal event.
		return
	}
	t.events.Append(EventProgress, "task started")

	if m.metrics != nil {
		m.metrics.IncrementActiveTasks(ctx)
		defer m.metrics.DecrementActiveTasks(context.Background())
	}

	result, err := m.runIsolated(ctx, t, work)

	switch {
	case err == nil:
		t.setResult(result)
		if t.advance(StatusCompleted) {
			t.events.Append(EventResult, result)
			t.events.Append(EventCompleted, map[string]any{"status": string(StatusCompleted)})
		}
		m.logger.Info("task %s completed", t.id)
	case ctx.Err() != nil:
		m.finishInterrupted(ctx, t)
	default:
		m.fail(t, err)
	}

	m.retire(t)
}

// runIsolated invokes the work with panic isolation.
func (m *Manager) runIsolated(ctx context.Context, t *Task, work Work) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task %s panicked: %v\n%s", t.id, r, debug.Stack())
			err = fmt.Errorf("task internal error: %v", r)
		}
	}()
	return work(ctx, t.id, &taskReporter{task: t})
}

// finishInterrupted resolves a task whose context ended: a deadline
// becomes TimedOut, everything else Cancelled.
func (m *Manager) finishInterrupted(ctx context.Context, t *Task) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.setError("task deadline exceeded")
		if t.advance(StatusTimedOut) {
			t.events.Append(EventTimeout, map[string]any{"message": "task deadline exceeded"})
		}
		m.logger.Warn("task %s timed out", t.id)
	} else {
		t.setError("task cancelled")
		if t.advance(StatusCancelled) {
			t.events.Append(EventFailed, map[string]any{"message": "task cancelled"})
		}
		m.logger.Info("task %s cancelled", t.id)
	}
	m.retire(t)
}

func (m *Manager) fail(t *Task, err error) {
	cause := err.Error()
	t.setError(cause)
	if t.advance(StatusFailed) {
		t.events.Append(EventError, map[string]any{"message": cause})
		t.events.Append(EventFailed, map[string]any{"message": cause})
	}
	m.logger.Warn("task %s failed: %s", t.id, cause)
}

// retire moves a terminal task from the active set into the bounded
// retention window, where it stays pollable until evicted.
func (m *Manager) retire(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[t.id]; !ok {
		return
	}
	delete(m.active, t.id)
	m.retained.Add(t.id, t)
}

func (m *Manager) lookup(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.active[id]; ok {
		return t, true
	}
	if t, ok := m.retained.Get(id); ok {
		return t, true
	}
	return nil, false
}

// Status returns a point-in-time snapshot of the task.
func (m *Manager) Status(id string) (Snapshot, error) {
	t, ok := m.lookup(id)
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// List returns task snapshots sorted newest first, with pagination.
func (m *Manager) List(limit, offset int) ([]Snapshot, int) {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.active)+m.retained.Len())
	for _, t := range m.active {
		tasks = append(tasks, t)
	}
	for _, t := range m.retained.Values() {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshots = append(snapshots, t.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	total := len(snapshots)
	if offset >= total {
		return []Snapshot{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return snapshots[offset:end], total
}

// Subscribe streams the task's events with Seq > afterSeq, replaying
// from the ring buffer before going live. The stream ends after a
// terminal event or when ctx is done.
func (m *Manager) Subscribe(ctx context.Context, id string, afterSeq uint64) (<-chan Event, error) {
	t, ok := m.lookup(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.events.Subscribe(ctx, afterSeq)
}

// Cancel requests a best-effort cancellation. A queued task resolves
// to Cancelled without ever running; a running task has its context
// cancelled, which hard-kills an in-flight render subprocess.
func (m *Manager) Cancel(id string) error {
	t, ok := m.lookup(id)
	if !ok {
		return ErrTaskNotFound
	}

	if t.StatusNow() == StatusQueued {
		t.setError("task cancelled")
		if t.advance(StatusCancelled) {
			t.events.Append(EventFailed, map[string]any{"message": "task cancelled"})
			m.logger.Info("task %s cancelled while queued", id)
		}
		t.cancel()
		m.retire(t)
		return nil
	}

	t.cancel()
	return nil
}

// Close stops accepting submissions, cancels all live tasks, and
// waits for their goroutines to finish or the context to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task manager shutdown: %w", ctx.Err())
	}
}

// taskReporter adapts a task into the Reporter the work receives.
type taskReporter struct {
	task *Task
}

func (r *taskReporter) Progress(message string) {
	r.task.addProgress(message)
	r.task.events.Append(EventProgress, message)
}
