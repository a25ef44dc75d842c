package turnloop

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhalvorsen/turnstile/blobstore"
	"github.com/mhalvorsen/turnstile/modelcall"
)

func deployTool(executions *atomic.Int32) Tool {
	return Tool{
		Name:        "deploy",
		Description: "Deploys the thing.",
		Run: func(context.Context, json.RawMessage, *TurnState) (string, error) {
			executions.Add(1)
			return "deployed", nil
		},
	}
}

func TestGatedCallSuspendsTurn(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{ID: "call_1", Name: "deploy", Arguments: json.RawMessage(`{}`)}),
	}}
	var executions atomic.Int32
	s, state := newTestScheduler(t, client, NewApprovalGate("deploy"))
	s.RegisterTool(deployTool(&executions))

	result, err := s.ExecuteTurn(context.Background(), state, "ship it")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, result.Status)
	assert.NotEmpty(t, result.CheckpointID)
	require.NotNil(t, result.PendingCall)
	assert.Equal(t, "call_1", result.PendingCall.ID)
	assert.Equal(t, "deploy", result.PendingCall.Name)
	assert.Equal(t, int32(0), executions.Load(), "gated tool must not run before approval")
}

func TestResumeApproveExecutesAndContinues(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{ID: "call_1", Name: "deploy", Arguments: json.RawMessage(`{}`)}),
		textResponse("Deployment complete."),
	}}
	var executions atomic.Int32
	s, state := newTestScheduler(t, client, NewApprovalGate("deploy"))
	s.RegisterTool(deployTool(&executions))

	result, err := s.ExecuteTurn(context.Background(), state, "ship it")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, result.Status)

	resumed, err := s.Resume(context.Background(), result.CheckpointID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, "Deployment complete.", resumed.Response)
	assert.Equal(t, int32(1), executions.Load())

	// The continued conversation carries the approved tool's result.
	last := client.lastRequest()
	found := false
	for _, m := range last.Messages {
		if m.ToolCallID == "call_1" && m.Content == "deployed" {
			found = true
		}
	}
	assert.True(t, found, "continuation request should include the tool result")
}

func TestResumeRejectContinuesTurn(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{ID: "call_1", Name: "deploy", Arguments: json.RawMessage(`{}`)}),
		textResponse("Understood, holding off."),
	}}
	var executions atomic.Int32
	s, state := newTestScheduler(t, client, NewApprovalGate("deploy"))
	s.RegisterTool(deployTool(&executions))

	result, err := s.ExecuteTurn(context.Background(), state, "ship it")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, result.Status)

	resumed, err := s.Resume(context.Background(), result.CheckpointID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, int32(0), executions.Load(), "rejected tool must not run")

	last := client.lastRequest()
	found := false
	for _, m := range last.Messages {
		if m.ToolCallID == "call_1" {
			found = true
			assert.Contains(t, m.Content, "rejected")
		}
	}
	assert.True(t, found, "model should see a rejection result and adapt")
}

func TestCheckpointConsumedExactlyOnce(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{ID: "call_1", Name: "deploy", Arguments: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	var executions atomic.Int32
	s, state := newTestScheduler(t, client, NewApprovalGate("deploy"))
	s.RegisterTool(deployTool(&executions))

	result, err := s.ExecuteTurn(context.Background(), state, "ship it")
	require.NoError(t, err)

	_, err = s.Resume(context.Background(), result.CheckpointID, DecisionApprove)
	require.NoError(t, err)

	_, err = s.Resume(context.Background(), result.CheckpointID, DecisionApprove)
	require.ErrorIs(t, err, blobstore.ErrConsumed)
}

func TestUngatedToolPassesThrough(t *testing.T) {
	client := &scriptClient{responses: []*modelcall.Response{
		toolCallResponse(modelcall.ToolCall{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)}),
		textResponse("fine"),
	}}
	s, state := newTestScheduler(t, client, NewApprovalGate("deploy"))
	s.RegisterTool(echoTool())

	result, err := s.ExecuteTurn(context.Background(), state, "just echo")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}
