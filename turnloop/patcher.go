package turnloop

import (
	"context"

	"github.com/mhalvorsen/turnstile/modelcall"
)

const cancelledResultContent = "Tool call was cancelled before a result was produced."

// IntegrityPatcher repairs history left inconsistent by an interrupted
// turn: assistant tool calls with no matching result get a synthesized
// cancellation placeholder so the provider accepts the history again.
// Register it before the Compactor so compaction only ever sees paired
// history. Running it on already-consistent history is a no-op.
type IntegrityPatcher struct{}

// NewIntegrityPatcher creates the patcher.
func NewIntegrityPatcher() *IntegrityPatcher { return &IntegrityPatcher{} }

func (p *IntegrityPatcher) Name() string { return "integrity_patcher" }

// BeforeTurn rewrites state.Messages with placeholders for every orphan
// tool call, positioned directly after the requesting assistant message
// and its surviving results.
func (p *IntegrityPatcher) BeforeTurn(_ context.Context, state *TurnState) error {
	state.Messages = PatchHistory(state.Messages)
	return nil
}

// PatchHistory returns history with every orphaned tool call paired to
// a cancellation placeholder. Idempotent.
func PatchHistory(msgs []modelcall.Message) []modelcall.Message {
	resolved := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == modelcall.RoleTool && m.ToolCallID != "" {
			resolved[m.ToolCallID] = true
		}
	}

	var out []modelcall.Message
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		out = append(out, m)
		if m.Role != modelcall.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		// Carry over the results that did arrive for this request.
		for i+1 < len(msgs) && msgs[i+1].Role == modelcall.RoleTool {
			i++
			out = append(out, msgs[i])
		}
		for _, call := range m.ToolCalls {
			if resolved[call.ID] {
				continue
			}
			out = append(out, modelcall.ToolResultMessage(call.ID, call.Name, cancelledResultContent, true))
		}
	}
	return out
}
