package turnloop

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mhalvorsen/turnstile/modelcall"
)

func historyWithCalls(calls ...modelcall.ToolCall) []modelcall.Message {
	var msgs []modelcall.Message
	for _, c := range calls {
		msgs = append(msgs,
			modelcall.AssistantMessage("", c),
			modelcall.ToolResultMessage(c.ID, c.Name, "ok", false),
		)
	}
	return msgs
}

func repeatedCall(i int, name, args string) modelcall.ToolCall {
	return modelcall.ToolCall{
		ID:        fmt.Sprintf("call_%d", i),
		Name:      name,
		Arguments: json.RawMessage(args),
	}
}

func TestDetectLoopSingleRepeatedCall(t *testing.T) {
	var calls []modelcall.ToolCall
	for i := 0; i < 6; i++ {
		calls = append(calls, repeatedCall(i, "search", `{"q":"same"}`))
	}
	assert.True(t, DetectLoop(historyWithCalls(calls...), 6))
}

func TestDetectLoopAlternatingPair(t *testing.T) {
	var calls []modelcall.ToolCall
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			calls = append(calls, repeatedCall(i, "read", `{"p":"a"}`))
		} else {
			calls = append(calls, repeatedCall(i, "write", `{"p":"b"}`))
		}
	}
	assert.True(t, DetectLoop(historyWithCalls(calls...), 6))
}

func TestDetectLoopVariedCallsPass(t *testing.T) {
	var calls []modelcall.ToolCall
	for i := 0; i < 6; i++ {
		calls = append(calls, repeatedCall(i, "search", fmt.Sprintf(`{"q":"query %d"}`, i)))
	}
	assert.False(t, DetectLoop(historyWithCalls(calls...), 6))
}

func TestDetectLoopTooFewCalls(t *testing.T) {
	calls := []modelcall.ToolCall{
		repeatedCall(0, "search", `{"q":"x"}`),
		repeatedCall(1, "search", `{"q":"x"}`),
	}
	assert.False(t, DetectLoop(historyWithCalls(calls...), 6))
}
