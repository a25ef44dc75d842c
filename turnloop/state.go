package turnloop

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mhalvorsen/turnstile/blobstore"
	"github.com/mhalvorsen/turnstile/modelcall"
)

// TodoStatus tracks progress of one todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoDone       TodoStatus = "done"
)

// Todo is one entry of the turn's task list.
type Todo struct {
	Text   string     `json:"text"`
	Status TodoStatus `json:"status"`
}

// TurnState is the mutable state of one conversation. It is owned by a
// single Scheduler invocation at a time; hooks mutate it only during
// that invocation. Interrupt is the one concurrent entry point.
type TurnState struct {
	ID        string
	Namespace string

	Messages      []modelcall.Message
	Todos         []Todo
	ApprovedCalls map[string]bool

	store blobstore.Store

	mu          sync.Mutex
	interrupts  []string
	interrupted atomic.Bool
	resultSeq   atomic.Int64
}

// NewTurnState creates a state rooted at the given store view. Namespace
// records the view's path from the scheduler's root store so suspended
// turns can be rebuilt.
func NewTurnState(store blobstore.Store, namespace string) *TurnState {
	return &TurnState{
		ID:            uuid.New().String(),
		Namespace:     namespace,
		ApprovedCalls: make(map[string]bool),
		store:         store,
	}
}

// Store returns the state's namespace view of the addressable store.
func (s *TurnState) Store() blobstore.Store { return s.store }

// Append adds messages to the history.
func (s *TurnState) Append(msgs ...modelcall.Message) {
	s.Messages = append(s.Messages, msgs...)
}

// History returns a copy of the message history.
func (s *TurnState) History() []modelcall.Message {
	out := make([]modelcall.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// Interrupt marks the in-flight turn abandoned and queues input for the
// next turn. Safe to call from another goroutine while a turn runs.
func (s *TurnState) Interrupt(input string) {
	s.mu.Lock()
	if input != "" {
		s.interrupts = append(s.interrupts, input)
	}
	s.mu.Unlock()
	s.interrupted.Store(true)
}

// Interrupted reports whether an interrupt arrived during this turn.
func (s *TurnState) Interrupted() bool { return s.interrupted.Load() }

// TakeInterrupts drains queued interrupt inputs and clears the flag.
func (s *TurnState) TakeInterrupts() []string {
	s.mu.Lock()
	queued := s.interrupts
	s.interrupts = nil
	s.mu.Unlock()
	s.interrupted.Store(false)
	return queued
}

// IsApproved reports whether a tool call was pre-approved on resume.
func (s *TurnState) IsApproved(callID string) bool {
	return s.ApprovedCalls[callID]
}

// nextResultSeq hands out sequence numbers for generated store paths.
// Atomic so parallel tool calls never collide.
func (s *TurnState) nextResultSeq() int64 {
	return s.resultSeq.Add(1)
}
