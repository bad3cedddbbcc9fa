package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventKind names the wire-level event types a subscriber can receive.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventResult    EventKind = "result"
	EventError     EventKind = "error"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventTimeout   EventKind = "timeout"
)

// Terminal reports whether this kind ends a task's event stream.
func (k EventKind) Terminal() bool {
	switch k {
	case EventCompleted, EventFailed, EventTimeout:
		return true
	}
	return false
}

// Event is one ordered entry in a task's event log. Seq is per-task,
// gapless, and strictly increasing.
type Event struct {
	TaskID    string    `json:"task_id"`
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrSeqTruncated is returned when a subscriber asks to resume from a
// sequence number that has already been evicted from the ring buffer.
// The client must fall back to polling the task status.
var ErrSeqTruncated = errors.New("requested sequence no longer buffered")

// eventLog is a bounded per-task ring buffer of events with gapless
// subscription semantics: a subscriber either receives every event
// after its cursor or its channel is closed, never a silent gap.
type eventLog struct {
	mu       sync.Mutex
	taskID   string
	capacity int
	events   []Event
	nextSeq  uint64
	notify   chan struct{}
	terminal bool
}

func newEventLog(taskID string, capacity int) *eventLog {
	if capacity < 1 {
		capacity = 1
	}
	return &eventLog{
		taskID:   taskID,
		capacity: capacity,
		nextSeq:  1,
		notify:   make(chan struct{}),
	}
}

// Append records one event and wakes all waiting subscribers. Appends
// after a terminal event are dropped; a task never re-opens.
func (l *eventLog) Append(kind EventKind, payload any) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.terminal {
		return Event{}, false
	}

	event := Event{
		TaskID:    l.taskID,
		Seq:       l.nextSeq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	l.nextSeq++

	l.events = append(l.events, event)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}

	if kind.Terminal() {
		l.terminal = true
	}

	close(l.notify)
	l.notify = make(chan struct{})
	return event, true
}

// LastSeq returns the highest assigned sequence number, 0 if none.
func (l *eventLog) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq - 1
}

// snapshotAfter copies the buffered events with Seq > afterSeq and
// returns the channel that will be closed on the next append. The
// drained flag is set when the log is terminal and the cursor has
// already consumed its last event, so no further append will ever
// come: the subscriber must end instead of waiting on notify.
func (l *eventLog) snapshotAfter(afterSeq uint64) ([]Event, <-chan struct{}, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) > 0 && afterSeq+1 < l.events[0].Seq {
		return nil, nil, false, ErrSeqTruncated
	}
	// The whole prefix was evicted: resuming from before the oldest
	// retained event would skip the evicted ones.
	if len(l.events) == 0 && afterSeq < l.nextSeq-1 {
		return nil, nil, false, ErrSeqTruncated
	}

	var batch []Event
	for _, e := range l.events {
		if e.Seq > afterSeq {
			batch = append(batch, e)
		}
	}
	drained := l.terminal && afterSeq >= l.nextSeq-1
	return batch, l.notify, drained, nil
}

// Subscribe streams every event with Seq > afterSeq to the returned
// channel, replaying from the buffer first. The channel closes after a
// terminal event, on context cancellation, or if the subscriber falls
// so far behind that the buffer evicts its cursor.
func (l *eventLog) Subscribe(ctx context.Context, afterSeq uint64) (<-chan Event, error) {
	// Validate the cursor up front so a stale resume fails fast.
	if _, _, _, err := l.snapshotAfter(afterSeq); err != nil {
		return nil, err
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		cursor := afterSeq
		for {
			batch, notify, drained, err := l.snapshotAfter(cursor)
			if err != nil {
				// Fell behind; the client must resubscribe or poll.
				return
			}
			for _, event := range batch {
				select {
				case ch <- event:
					cursor = event.Seq
					if event.Kind.Terminal() {
						return
					}
				case <-ctx.Done():
					return
				}
			}
			if drained {
				// Terminal event already consumed by this cursor; no
				// further append will ever arrive.
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
