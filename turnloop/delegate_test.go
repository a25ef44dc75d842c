package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/turnstile/blobstore"
	"github.com/mhalvorsen/turnstile/modelcall"
)

// clientFunc adapts a function to modelcall.Client.
type clientFunc func(ctx context.Context, req modelcall.Request) (*modelcall.Response, error)

func (f clientFunc) Complete(ctx context.Context, req modelcall.Request) (*modelcall.Response, error) {
	return f(ctx, req)
}

// childWorker simulates a child turn: one tool round against the probe
// tool, then a final answer derived from the task description.
func childWorker(t *testing.T) clientFunc {
	return func(_ context.Context, req modelcall.Request) (*modelcall.Response, error) {
		t.Helper()
		last := req.Messages[len(req.Messages)-1]
		if last.Role == modelcall.RoleTool {
			task := req.Messages[0].Content
			return textResponse("INTERNAL-SCRATCH answer for " + task), nil
		}
		return toolCallResponse(modelcall.ToolCall{
			ID: "probe_call", Name: "probe", Arguments: json.RawMessage(`{}`),
		}), nil
	}
}

// probeMiddleware contributes a tool that leaves a marker in the
// child's store namespace.
type probeMiddleware struct{}

func (probeMiddleware) Name() string { return "probe" }

func (probeMiddleware) Tools() []Tool {
	return []Tool{{
		Name: "probe",
		Run: func(ctx context.Context, _ json.RawMessage, state *TurnState) (string, error) {
			if _, err := state.Store().Write(ctx, "note.txt", []byte("probe ran"), "probe"); err != nil {
				return "", err
			}
			return "PROBE-OUTPUT", nil
		},
	}}
}

func delegateCall(id, description string) modelcall.ToolCall {
	args, _ := json.Marshal(map[string]any{"description": description})
	return modelcall.ToolCall{ID: id, Name: "delegate", Arguments: args}
}

func TestConcurrentDelegationsFoldOnlySummaries(t *testing.T) {
	parent := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(
			delegateCall("call_a", "task A"),
			delegateCall("call_b", "task B"),
		),
		textResponse("both done"),
	}}

	d := NewDelegator(childWorker(t), testConfig())
	d.ChildMiddleware = func() []Middleware {
		return []Middleware{NewIntegrityPatcher(), probeMiddleware{}}
	}
	s, state := newTestScheduler(t, parent, d)

	result, err := s.ExecuteTurn(context.Background(), state, "split the work")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	// Exactly two summary messages, joined in request order.
	require.Len(t, state.Messages, 5)
	a, b := state.Messages[2], state.Messages[3]
	assert.Equal(t, "call_a", a.ToolCallID)
	assert.Equal(t, "call_b", b.ToolCallID)
	assert.Contains(t, a.Content, "task A")
	assert.Contains(t, b.Content, "task B")

	// Nothing from inside the children leaks into the parent history.
	for _, m := range state.Messages {
		assert.NotContains(t, m.Content, "PROBE-OUTPUT")
	}
}

func TestDelegationChildrenGetIsolatedNamespaces(t *testing.T) {
	parent := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(
			delegateCall("call_a", "task A"),
			delegateCall("call_b", "task B"),
		),
		textResponse("done"),
	}}

	d := NewDelegator(childWorker(t), testConfig())
	d.ChildMiddleware = func() []Middleware {
		return []Middleware{probeMiddleware{}}
	}
	s, state := newTestScheduler(t, parent, d)

	_, err := s.ExecuteTurn(context.Background(), state, "go")
	require.NoError(t, err)

	// Each child wrote into its own subtree of the parent store.
	paths, err := state.Store().Search(context.Background(), "tasks/*/note.txt")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.NotEqual(t, paths[0], paths[1])
}

func TestChildFailureContainedToErrorResult(t *testing.T) {
	parent := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(delegateCall("call_a", "doomed task")),
		textResponse("Moving on without it."),
	}}
	failing := clientFunc(func(context.Context, modelcall.Request) (*modelcall.Response, error) {
		return nil, fmt.Errorf("child provider exploded")
	})

	d := NewDelegator(failing, testConfig())
	s, state := newTestScheduler(t, parent, d)

	result, err := s.ExecuteTurn(context.Background(), state, "go")
	require.NoError(t, err, "child failure must not fail the parent turn")
	assert.Equal(t, StatusCompleted, result.Status)

	toolMsg := state.Messages[2]
	assert.True(t, toolMsg.IsError)
	assert.Contains(t, toolMsg.Content, "failed")
}

func TestDelegateSummaryBounded(t *testing.T) {
	longAnswer := strings.Repeat("verbose ", 2000)
	chatty := clientFunc(func(context.Context, modelcall.Request) (*modelcall.Response, error) {
		return textResponse(longAnswer), nil
	})

	cfg := testConfig()
	cfg.SummaryLimit = 100
	d := NewDelegator(chatty, cfg)

	out, err := d.runDelegate(context.Background(),
		json.RawMessage(`{"description":"be brief"}`),
		NewTurnState(blobstore.NewMemoryStore(), ""))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 100+len("\n[summary truncated]"))
	assert.Contains(t, out, "[summary truncated]")
}

func TestDelegateDepthLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDelegateDepth = 1

	root := NewDelegator(clientFunc(nil), cfg)
	assert.NotEmpty(t, root.Tools())

	nested := newDelegatorAtDepth(clientFunc(nil), cfg, 1)
	assert.Empty(t, nested.Tools(), "children at max depth cannot delegate further")
}

func TestDelegateRequiresDescription(t *testing.T) {
	d := NewDelegator(clientFunc(nil), testConfig())
	_, err := d.runDelegate(context.Background(),
		json.RawMessage(`{"description":"  "}`),
		NewTurnState(blobstore.NewMemoryStore(), ""))
	require.Error(t, err)
}
