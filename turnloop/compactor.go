package turnloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/mhalvorsen/turnstile/modelcall"
)

const compactorSystemPrompt = `You summarize conversation history for an assistant that is running low on context.
Produce a dense summary of the transcript you are given: decisions made, facts discovered, tool outcomes, open tasks.
Preserve identifiers, paths, and numbers exactly. Output only the summary.`

// Compactor bounds total conversation size. When the estimated size at
// turn start exceeds the ceiling, everything except the most recent
// retention window is replaced by one synthesized summary message. The
// cut never splits a tool call/result pair; summarization failure
// leaves the history untouched.
type Compactor struct {
	client  modelcall.Client
	config  *Config
	emitter *Emitter
}

// NewCompactor creates a compactor that summarizes through client.
func NewCompactor(client modelcall.Client, cfg *Config) *Compactor {
	return &Compactor{client: client, config: cfg}
}

func (c *Compactor) Name() string { return "history_compactor" }

// SetEmitter attaches an event stream. Optional.
func (c *Compactor) SetEmitter(e *Emitter) { c.emitter = e }

func (c *Compactor) BeforeTurn(ctx context.Context, state *TurnState) error {
	est := c.config.estimator()
	total := EstimateConversation(state.Messages, est)
	if total <= c.config.CompactionCeiling {
		return nil
	}

	cut := compactionBoundary(state.Messages, c.config.RetainMessages)
	if cut <= 0 {
		return nil
	}
	older, recent := state.Messages[:cut], state.Messages[cut:]

	summary, err := c.summarize(ctx, older)
	if err != nil {
		// Degrade to pass-through; an oversized request beats losing
		// history to a failed summary.
		c.config.logger().Warn("compaction summary failed, keeping full history",
			"state_id", state.ID, "size", total, "error", err)
		return nil
	}

	compacted := make([]modelcall.Message, 0, len(recent)+1)
	compacted = append(compacted, modelcall.UserMessage(
		"[Summary of earlier conversation]\n"+summary))
	compacted = append(compacted, recent...)
	state.Messages = compacted

	c.emitter.Emit(EventCompaction, map[string]any{
		"before_size": total,
		"after_size":  EstimateConversation(state.Messages, est),
		"summarized":  len(older),
		"retained":    len(recent),
	})
	c.config.logger().Info("history compacted",
		"state_id", state.ID, "summarized", len(older), "retained", len(recent))
	return nil
}

// compactionBoundary returns the index where the retained window
// starts, shifted backward until it does not open with tool results
// whose requesting message would fall on the summarized side.
func compactionBoundary(msgs []modelcall.Message, retain int) int {
	cut := len(msgs) - retain
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && msgs[cut].Role == modelcall.RoleTool {
		cut--
	}
	return cut
}

func (c *Compactor) summarize(ctx context.Context, msgs []modelcall.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&transcript, "[%s] called %s(%s)\n", m.Role, tc.Name, tc.Arguments)
		}
	}

	resp, err := modelcall.Do(ctx, c.config.Retry, func(ctx context.Context) (*modelcall.Response, error) {
		return c.client.Complete(ctx, modelcall.Request{
			Model:  c.config.Model,
			System: compactorSystemPrompt,
			Messages: []modelcall.Message{
				modelcall.UserMessage(transcript.String()),
			},
		})
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return text, nil
}
