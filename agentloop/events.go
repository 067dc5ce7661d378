package agentloop

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies the type of task event.
type EventKind string

const (
	EventTaskStart          EventKind = "task_start"
	EventTaskEnd            EventKind = "task_end"
	EventTextDelta          EventKind = "text_delta"
	EventReasoningDelta     EventKind = "reasoning_delta"
	EventToolCallProposed   EventKind = "tool_call_proposed"
	EventToolResult         EventKind = "tool_result"
	EventUsage              EventKind = "usage"
	EventTemperatureReduced EventKind = "temperature_reduced"
	EventModeSwitched       EventKind = "mode_switched"
	EventModeUnchanged      EventKind = "mode_unchanged"
	EventMemoryLoaded       EventKind = "memory_loaded"
	EventLoopDetected       EventKind = "loop_detected"
	EventWarning            EventKind = "warning"
	EventError              EventKind = "error"
)

// TaskEvent is a typed event emitted by a running task.
type TaskEvent struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	TaskID    string                 `json:"task_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventEmitter delivers events from every task of a Manager to the host
// application via one channel.
type EventEmitter struct {
	ch      chan TaskEvent
	closed  bool
	dropped int
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventEmitter creates a new EventEmitter with a buffered channel.
func NewEventEmitter(bufferSize int, logger *slog.Logger) *EventEmitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		ch:     make(chan TaskEvent, bufferSize),
		logger: logger,
	}
}

// Emit sends an event to the channel. If the emitter is closed, the event
// is silently dropped. A full channel drops the event instead of blocking
// the task.
func (e *EventEmitter) Emit(taskID string, kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := TaskEvent{
		Kind:      kind,
		Timestamp: time.Now(),
		TaskID:    taskID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		e.dropped++
		e.logger.Warn("event dropped", "task", taskID, "kind", kind, "dropped_total", e.dropped)
	}
}

// Dropped returns how many events were discarded because the channel was
// full.
func (e *EventEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Events returns the read-only event channel.
func (e *EventEmitter) Events() <-chan TaskEvent {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
