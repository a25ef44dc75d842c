package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// TodoTracker lets the model maintain the turn's task list. The
// write_todos tool replaces the list wholesale; the current list is
// echoed into the system prompt so it survives compaction.
type TodoTracker struct{}

// NewTodoTracker creates the todo middleware.
func NewTodoTracker() *TodoTracker { return &TodoTracker{} }

func (t *TodoTracker) Name() string { return "todo_tracker" }

func (t *TodoTracker) WrapModelCall(ctx context.Context, state *TurnState, req *modelcall.Request, next ModelCallFunc) (*modelcall.Response, error) {
	if len(state.Todos) > 0 {
		var sb strings.Builder
		sb.WriteString("Current todo list:\n")
		for _, todo := range state.Todos {
			fmt.Fprintf(&sb, "- [%s] %s\n", todo.Status, todo.Text)
		}
		if req.System != "" {
			req.System += "\n\n"
		}
		req.System += sb.String()
	}
	return next(ctx, req)
}

func (t *TodoTracker) Tools() []Tool {
	return []Tool{{
		Name:        "write_todos",
		Description: "Replace the todo list. Pass the complete list every time; statuses are pending, in_progress, or done.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todos": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"text":   map[string]any{"type": "string"},
							"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "done"}},
						},
						"required": []string{"text", "status"},
					},
				},
			},
			"required": []string{"todos"},
		},
		Run: func(_ context.Context, raw json.RawMessage, state *TurnState) (string, error) {
			var args struct {
				Todos []Todo `json:"todos"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("invalid todos: %w", err)
			}
			for _, todo := range args.Todos {
				switch todo.Status {
				case TodoPending, TodoInProgress, TodoDone:
				default:
					return "", fmt.Errorf("invalid todo status %q", todo.Status)
				}
			}
			state.Todos = args.Todos
			return fmt.Sprintf("Recorded %d todos.", len(args.Todos)), nil
		},
	}}
}

var (
	_ ModelCallWrapper = (*TodoTracker)(nil)
	_ ToolProvider     = (*TodoTracker)(nil)
)
