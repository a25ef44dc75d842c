package turnloop

import (
	"sync"
	"time"
)

// EventKind identifies the type of turn event.
type EventKind string

const (
	EventTurnStart     EventKind = "turn_start"
	EventTurnEnd       EventKind = "turn_end"
	EventModelCall     EventKind = "model_call"
	EventModelResponse EventKind = "model_response"
	EventToolStart     EventKind = "tool_start"
	EventToolEnd       EventKind = "tool_end"
	EventEviction      EventKind = "eviction"
	EventCompaction    EventKind = "compaction"
	EventPatch         EventKind = "patch"
	EventDelegateStart EventKind = "delegate_start"
	EventDelegateEnd   EventKind = "delegate_end"
	EventSuspended     EventKind = "suspended"
	EventResumed       EventKind = "resumed"
	EventSteering      EventKind = "steering"
	EventRoundLimit    EventKind = "round_limit"
	EventInterrupted   EventKind = "interrupted"
	EventLoopDetected  EventKind = "loop_detected"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
)

// Event is a typed event emitted by the scheduler.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TurnID    string         `json:"turn_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emitter delivers typed events to the host application via a channel.
type Emitter struct {
	turnID string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an Emitter with a buffered channel.
func NewEmitter(turnID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		turnID: turnID,
		ch:     make(chan Event, bufferSize),
	}
}

// Emit sends an event to the channel. If the emitter is closed, the
// event is silently dropped.
func (e *Emitter) Emit(kind EventKind, data map[string]any) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		TurnID:    e.turnID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
		// Channel full; drop event to avoid blocking the turn loop.
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
