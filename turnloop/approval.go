package turnloop

import (
	"context"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// ApprovalGate suspends the turn when the model requests one of the
// gated tools. The scheduler checkpoints the state and returns
// StatusSuspended; Resume with an approve decision marks the call
// approved so the gate lets it through, reject records a rejection
// result and the loop continues.
type ApprovalGate struct {
	gated map[string]bool
}

// NewApprovalGate gates the named tools.
func NewApprovalGate(toolNames ...string) *ApprovalGate {
	gated := make(map[string]bool, len(toolNames))
	for _, name := range toolNames {
		gated[name] = true
	}
	return &ApprovalGate{gated: gated}
}

func (g *ApprovalGate) Name() string { return "approval_gate" }

// Gated reports whether a tool name requires approval.
func (g *ApprovalGate) Gated(toolName string) bool { return g.gated[toolName] }

func (g *ApprovalGate) WrapToolCall(ctx context.Context, state *TurnState, call modelcall.ToolCall, next ToolCallFunc) (modelcall.ToolResult, error) {
	if !g.gated[call.Name] || state.IsApproved(call.ID) {
		return next(ctx, call)
	}
	return modelcall.ToolResult{}, &suspendSignal{call: call}
}

var _ ToolCallWrapper = (*ApprovalGate)(nil)
