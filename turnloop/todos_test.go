package turnloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/turnstile/modelcall"
)

func TestWriteTodosReplacesList(t *testing.T) {
	tracker := NewTodoTracker()
	state := NewTurnState(nil, "")
	state.Todos = []Todo{{Text: "old item", Status: TodoDone}}

	tool := tracker.Tools()[0]
	out, err := tool.Run(context.Background(),
		json.RawMessage(`{"todos":[{"text":"first","status":"done"},{"text":"second","status":"in_progress"}]}`),
		state)
	require.NoError(t, err)
	assert.Contains(t, out, "2")

	require.Len(t, state.Todos, 2)
	assert.Equal(t, "first", state.Todos[0].Text)
	assert.Equal(t, TodoInProgress, state.Todos[1].Status)
}

func TestWriteTodosRejectsBadStatus(t *testing.T) {
	tool := NewTodoTracker().Tools()[0]
	_, err := tool.Run(context.Background(),
		json.RawMessage(`{"todos":[{"text":"x","status":"someday"}]}`),
		NewTurnState(nil, ""))
	require.Error(t, err)
}

func TestTodosEchoedIntoSystemPrompt(t *testing.T) {
	tracker := NewTodoTracker()
	state := NewTurnState(nil, "")
	state.Todos = []Todo{
		{Text: "ship the fix", Status: TodoInProgress},
		{Text: "write release notes", Status: TodoPending},
	}

	req := &modelcall.Request{}
	_, err := tracker.WrapModelCall(context.Background(), state, req,
		func(_ context.Context, r *modelcall.Request) (*modelcall.Response, error) {
			return textResponse("ok"), nil
		})
	require.NoError(t, err)
	assert.Contains(t, req.System, "ship the fix")
	assert.Contains(t, req.System, "[in_progress]")
}

func TestTodoListSurvivesModelFailure(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{
			ID: "call_1", Name: "write_todos",
			Arguments: json.RawMessage(`{"todos":[{"text":"step one","status":"pending"}]}`),
		}),
	}}
	s, state := newTestScheduler(t, client, NewTodoTracker())

	// Second model call hits an exhausted script and fails the turn.
	_, err := s.ExecuteTurn(context.Background(), state, "plan it")
	require.Error(t, err)

	// The todo update applied before the failure persists.
	require.Len(t, state.Todos, 1)
	assert.Equal(t, "step one", state.Todos[0].Text)
}
