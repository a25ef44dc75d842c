package turnloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mhalvorsen/turnstile/blobstore"
	"github.com/mhalvorsen/turnstile/modelcall"
)

// TurnStatus is the terminal state of one turn execution.
type TurnStatus string

const (
	StatusCompleted   TurnStatus = "completed"
	StatusSuspended   TurnStatus = "suspended"
	StatusInterrupted TurnStatus = "interrupted"
	StatusRoundLimit  TurnStatus = "round_limit"
)

// Decision resolves a suspended turn.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TurnResult reports the outcome of ExecuteTurn or Resume.
type TurnResult struct {
	Status   TurnStatus
	Response string
	Usage    modelcall.Usage

	// Set when Status is StatusSuspended.
	CheckpointID string
	PendingCall  *modelcall.ToolCall
}

// suspendSignal is the control-flow value an Approval Gate returns from
// its tool wrapper. The scheduler catches it and checkpoints the turn;
// it never reaches callers as an error.
type suspendSignal struct {
	call modelcall.ToolCall
}

func (s *suspendSignal) Error() string {
	return fmt.Sprintf("tool call %s (%s) pending approval", s.call.ID, s.call.Name)
}

// checkpointPayload is the serialized form of a suspended turn.
type checkpointPayload struct {
	CheckpointID  string              `json:"checkpoint_id"`
	StateID       string              `json:"state_id"`
	Namespace     string              `json:"namespace"`
	Messages      []modelcall.Message `json:"messages"`
	Todos         []Todo              `json:"todos,omitempty"`
	ApprovedCalls map[string]bool     `json:"approved_calls,omitempty"`
	PendingCall   modelcall.ToolCall  `json:"pending_call"`
	Round         int                 `json:"round"`
}

// Scheduler drives one conversation through the model/tool loop with
// the registered middleware composed around every phase.
type Scheduler struct {
	client      modelcall.Client
	store       blobstore.Store
	checkpoints blobstore.CheckpointStore
	config      *Config
	middlewares []Middleware
	registry    *Registry
	emitter     *Emitter
}

// NewScheduler composes a runtime from its collaborators. Middleware
// order is fixed at construction; tools contributed by ToolProvider
// middleware are registered in the same order.
func NewScheduler(client modelcall.Client, store blobstore.Store, checkpoints blobstore.CheckpointStore, cfg *Config, mws ...Middleware) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Scheduler{
		client:      client,
		store:       store,
		checkpoints: checkpoints,
		config:      cfg,
		middlewares: mws,
		registry:    NewRegistry(),
		emitter:     NewEmitter(uuid.New().String(), 256),
	}
	for _, m := range mws {
		if p, ok := m.(ToolProvider); ok {
			for _, t := range p.Tools() {
				s.registry.Register(t)
			}
		}
	}
	return s
}

// RegisterTool adds a host-provided tool alongside middleware tools.
func (s *Scheduler) RegisterTool(t Tool) { s.registry.Register(t) }

// Events returns the scheduler's event stream.
func (s *Scheduler) Events() <-chan Event { return s.emitter.Events() }

// Close releases the event channel.
func (s *Scheduler) Close() { s.emitter.Close() }

// NewState creates a fresh turn state rooted at the scheduler's store.
func (s *Scheduler) NewState() *TurnState {
	return NewTurnState(s.store, "")
}

// ExecuteTurn runs one full turn: pre-turn hooks in registration order,
// then the model/tool loop until a final answer, a suspension, an
// interrupt, or the round limit. Hook side effects already applied to
// state persist even when the turn fails.
func (s *Scheduler) ExecuteTurn(ctx context.Context, state *TurnState, input string) (*TurnResult, error) {
	if input != "" {
		state.Append(modelcall.UserMessage(input))
	}
	for _, queued := range state.TakeInterrupts() {
		state.Append(modelcall.UserMessage(queued))
		s.emitter.Emit(EventSteering, map[string]any{"content": queued})
	}
	s.emitter.Emit(EventTurnStart, map[string]any{"state_id": state.ID})

	if err := runPreTurnHooks(ctx, s.middlewares, state); err != nil {
		s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("turnloop: pre-turn hook: %w", err)
	}

	return s.runLoop(ctx, state, 0)
}

// Resume consumes a checkpoint and continues the suspended turn. The
// checkpoint is spent whether the decision is approve or reject; a
// second Resume with the same id fails with blobstore.ErrConsumed.
func (s *Scheduler) Resume(ctx context.Context, checkpointID string, decision Decision) (*TurnResult, error) {
	raw, err := s.checkpoints.Take(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("turnloop: take checkpoint %s: %w", checkpointID, err)
	}
	var payload checkpointPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("turnloop: decode checkpoint %s: %w", checkpointID, err)
	}

	view := s.store
	if payload.Namespace != "" {
		view = view.Namespace(payload.Namespace)
	}
	state := &TurnState{
		ID:            payload.StateID,
		Namespace:     payload.Namespace,
		Messages:      payload.Messages,
		Todos:         payload.Todos,
		ApprovedCalls: payload.ApprovedCalls,
		store:         view,
	}
	if state.ApprovedCalls == nil {
		state.ApprovedCalls = make(map[string]bool)
	}

	pending := payload.PendingCall
	s.emitter.Emit(EventResumed, map[string]any{
		"checkpoint_id": checkpointID,
		"decision":      string(decision),
		"call_id":       pending.ID,
	})

	switch decision {
	case DecisionApprove:
		state.ApprovedCalls[pending.ID] = true
		chain := buildToolChain(s.middlewares, state, s.invokeTool(state))
		result, err := chain(ctx, pending)
		if err != nil {
			var suspend *suspendSignal
			if errors.As(err, &suspend) {
				// The gate must honor the approval; a second suspension
				// for an approved call is a middleware bug.
				return nil, fmt.Errorf("turnloop: approved call %s suspended again", pending.ID)
			}
			result = toolErrorResult(pending, err)
		}
		state.Append(result.Message())
	case DecisionReject:
		state.Append(modelcall.ToolResultMessage(pending.ID, pending.Name,
			"The operator rejected this tool call. Do not retry it; adjust the plan and continue.", false))
	default:
		return nil, fmt.Errorf("turnloop: unknown decision %q", decision)
	}

	return s.runLoop(ctx, state, payload.Round)
}

// runLoop is the model/tool loop shared by ExecuteTurn and Resume.
func (s *Scheduler) runLoop(ctx context.Context, state *TurnState, round int) (*TurnResult, error) {
	log := s.config.logger()
	var usage modelcall.Usage

	for {
		if state.Interrupted() {
			s.emitter.Emit(EventInterrupted, map[string]any{"round": round})
			return &TurnResult{Status: StatusInterrupted, Usage: usage}, nil
		}
		if round >= s.config.MaxToolRounds {
			s.emitter.Emit(EventRoundLimit, map[string]any{"round": round})
			log.Warn("tool round limit reached", "state_id", state.ID, "round", round)
			return &TurnResult{Status: StatusRoundLimit, Usage: usage}, nil
		}
		select {
		case <-ctx.Done():
			s.emitter.Emit(EventError, map[string]any{"error": ctx.Err().Error()})
			return nil, ctx.Err()
		default:
		}

		req := &modelcall.Request{
			Model:     s.config.Model,
			Messages:  state.History(),
			Tools:     s.registry.Definitions(),
			MaxTokens: s.config.MaxTokens,
		}

		chain := buildModelChain(s.middlewares, state, s.completeWithRetry)
		s.emitter.Emit(EventModelCall, map[string]any{"round": round, "messages": len(req.Messages)})
		resp, err := chain(ctx, req)
		if err != nil {
			s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			log.Error("model call failed", "state_id", state.ID, "error", err)
			return nil, fmt.Errorf("turnloop: model call: %w", err)
		}
		usage = usage.Add(resp.Usage)
		state.Append(resp.Message)
		calls := resp.ToolCalls()
		s.emitter.Emit(EventModelResponse, map[string]any{
			"text":       resp.Text(),
			"tool_calls": len(calls),
		})

		if len(calls) == 0 {
			s.emitter.Emit(EventTurnEnd, map[string]any{"rounds": round})
			return &TurnResult{Status: StatusCompleted, Response: resp.Text(), Usage: usage}, nil
		}

		// An interrupt arriving here abandons the batch; the dangling
		// calls are reconciled by the next turn's Integrity Patcher.
		if state.Interrupted() {
			s.emitter.Emit(EventInterrupted, map[string]any{"round": round, "dangling": len(calls)})
			return &TurnResult{Status: StatusInterrupted, Usage: usage}, nil
		}

		round++
		results, suspended := s.executeBatch(ctx, state, calls)
		for _, r := range results {
			state.Append(r.Message())
		}
		if suspended != nil {
			return s.suspend(ctx, state, *suspended, round, usage)
		}

		if s.config.EnableLoopDetection && DetectLoop(state.Messages, s.config.LoopWindow) {
			warning := fmt.Sprintf("The last %d tool calls follow a repeating pattern. Try a different approach.", s.config.LoopWindow)
			state.Append(modelcall.UserMessage(warning))
			s.emitter.Emit(EventLoopDetected, map[string]any{"window": s.config.LoopWindow})
		}
	}
}

// executeBatch runs one batch of tool calls through the tool chain.
// Results come back in request order regardless of dispatch order. At
// most one suspension is honored per batch; calls past it that also
// suspended receive deferral placeholders so the pairing invariant
// holds inside the checkpoint.
func (s *Scheduler) executeBatch(ctx context.Context, state *TurnState, calls []modelcall.ToolCall) ([]modelcall.ToolResult, *modelcall.ToolCall) {
	chain := buildToolChain(s.middlewares, state, s.invokeTool(state))
	results := make([]modelcall.ToolResult, len(calls))
	suspends := make([]*suspendSignal, len(calls))

	run := func(i int, call modelcall.ToolCall) {
		s.emitter.Emit(EventToolStart, map[string]any{"call_id": call.ID, "tool": call.Name})
		result, err := chain(ctx, call)
		if err != nil {
			var suspend *suspendSignal
			if errors.As(err, &suspend) {
				suspends[i] = suspend
			} else {
				result = toolErrorResult(call, err)
			}
		}
		results[i] = result
		s.emitter.Emit(EventToolEnd, map[string]any{"call_id": call.ID, "is_error": result.IsError})
	}

	if s.config.ParallelToolCalls && len(calls) > 1 {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call modelcall.ToolCall) {
				defer wg.Done()
				run(i, call)
			}(i, call)
		}
		wg.Wait()
	} else {
		for i, call := range calls {
			run(i, call)
		}
	}

	var pending *modelcall.ToolCall
	out := make([]modelcall.ToolResult, 0, len(calls))
	for i := range results {
		if suspends[i] == nil {
			out = append(out, results[i])
			continue
		}
		if pending == nil {
			call := suspends[i].call
			pending = &call
			continue
		}
		out = append(out, modelcall.ToolResult{
			ToolCallID: suspends[i].call.ID,
			Name:       suspends[i].call.Name,
			Content:    "Deferred: another tool call in this batch is awaiting approval. Request this call again if still needed.",
			IsError:    true,
		})
	}
	return out, pending
}

// suspend checkpoints the turn and reports the pending call.
func (s *Scheduler) suspend(ctx context.Context, state *TurnState, call modelcall.ToolCall, round int, usage modelcall.Usage) (*TurnResult, error) {
	if s.checkpoints == nil {
		return nil, fmt.Errorf("turnloop: tool %s requires approval but no checkpoint store is configured", call.Name)
	}
	payload := checkpointPayload{
		CheckpointID:  uuid.New().String(),
		StateID:       state.ID,
		Namespace:     state.Namespace,
		Messages:      state.Messages,
		Todos:         state.Todos,
		ApprovedCalls: state.ApprovedCalls,
		PendingCall:   call,
		Round:         round,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("turnloop: encode checkpoint: %w", err)
	}
	if err := s.checkpoints.Save(ctx, payload.CheckpointID, raw); err != nil {
		return nil, fmt.Errorf("turnloop: save checkpoint: %w", err)
	}
	s.emitter.Emit(EventSuspended, map[string]any{
		"checkpoint_id": payload.CheckpointID,
		"call_id":       call.ID,
		"tool":          call.Name,
	})
	s.config.logger().Info("turn suspended pending approval",
		"state_id", state.ID, "checkpoint_id", payload.CheckpointID, "tool", call.Name)
	return &TurnResult{
		Status:       StatusSuspended,
		Usage:        usage,
		CheckpointID: payload.CheckpointID,
		PendingCall:  &call,
	}, nil
}

// completeWithRetry is the innermost model-call layer: the client
// wrapped in the configured retry policy.
func (s *Scheduler) completeWithRetry(ctx context.Context, req *modelcall.Request) (*modelcall.Response, error) {
	return modelcall.Do(ctx, s.config.Retry, func(ctx context.Context) (*modelcall.Response, error) {
		return s.client.Complete(ctx, *req)
	})
}

// invokeTool is the innermost tool-call layer: registry lookup and
// execution. Tool failures become error results, never turn failures.
func (s *Scheduler) invokeTool(state *TurnState) ToolCallFunc {
	return func(ctx context.Context, call modelcall.ToolCall) (modelcall.ToolResult, error) {
		tool, ok := s.registry.Get(call.Name)
		if !ok {
			return modelcall.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    fmt.Sprintf("Unknown tool: %s", call.Name),
				IsError:    true,
			}, nil
		}
		output, err := tool.Run(ctx, call.Arguments, state)
		if err != nil {
			return toolErrorResult(call, err), nil
		}
		return modelcall.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    output,
		}, nil
	}
}

func toolErrorResult(call modelcall.ToolCall, err error) modelcall.ToolResult {
	return modelcall.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    fmt.Sprintf("Tool error (%s): %v", call.Name, err),
		IsError:    true,
	}
}
