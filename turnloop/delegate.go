package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mhalvorsen/turnstile/modelcall"
)

const delegateNote = `You can hand self-contained subtasks to the delegate tool. Each delegated task runs in isolation and returns only a summary, so give it a complete description of the work and the expected output.`

// TaskStatus tracks a delegated task's lifecycle.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SubagentTask records one delegated execution.
type SubagentTask struct {
	ID          string
	Description string
	Skills      []string
	Type        string
	Status      TaskStatus
	Summary     string
}

// Delegator exposes the delegate tool. Each call runs an isolated child
// turn under its own store namespace and folds only a bounded summary
// back into the parent. Children never share history with the parent or
// each other; concurrency across delegate calls in one batch comes from
// the scheduler's parallel dispatch. Child failures surface as error
// tool results, never as a parent-turn failure.
type Delegator struct {
	client modelcall.Client
	config *Config
	depth  int

	// ChildMiddleware builds the middleware stack for each child turn.
	// Nil gets a patcher and an evictor.
	ChildMiddleware func() []Middleware

	mu    sync.Mutex
	tasks map[string]*SubagentTask
}

// NewDelegator creates delegation middleware at nesting depth zero.
func NewDelegator(client modelcall.Client, cfg *Config) *Delegator {
	return newDelegatorAtDepth(client, cfg, 0)
}

func newDelegatorAtDepth(client modelcall.Client, cfg *Config, depth int) *Delegator {
	return &Delegator{
		client: client,
		config: cfg,
		depth:  depth,
		tasks:  make(map[string]*SubagentTask),
	}
}

func (d *Delegator) Name() string { return "delegation_manager" }

// Task returns a recorded task by id.
func (d *Delegator) Task(id string) *SubagentTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks[id]
}

// WrapModelCall injects the delegation capability note.
func (d *Delegator) WrapModelCall(ctx context.Context, state *TurnState, req *modelcall.Request, next ModelCallFunc) (*modelcall.Response, error) {
	if d.canSpawn() {
		if req.System != "" {
			req.System += "\n\n"
		}
		req.System += delegateNote
	}
	return next(ctx, req)
}

func (d *Delegator) canSpawn() bool {
	return d.depth < d.config.MaxDelegateDepth
}

// Tools contributes the delegate tool, or nothing once the nesting
// limit is reached.
func (d *Delegator) Tools() []Tool {
	if !d.canSpawn() {
		return nil
	}
	return []Tool{{
		Name:        "delegate",
		Description: "Run a self-contained subtask in an isolated child execution and return its summary.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"description": map[string]any{
					"type":        "string",
					"description": "Complete description of the subtask and the expected output.",
				},
				"skills": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Skill names relevant to the subtask.",
				},
				"subagent_type": map[string]any{
					"type":        "string",
					"description": "Optional label for the kind of worker to run.",
				},
			},
			"required": []string{"description"},
		},
		Run: d.runDelegate,
	}}
}

func (d *Delegator) runDelegate(ctx context.Context, raw json.RawMessage, state *TurnState) (string, error) {
	var args struct {
		Description  string   `json:"description"`
		Skills       []string `json:"skills"`
		SubagentType string   `json:"subagent_type"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid delegate arguments: %w", err)
	}
	if strings.TrimSpace(args.Description) == "" {
		return "", fmt.Errorf("delegate requires a description")
	}

	task := &SubagentTask{
		ID:          uuid.New().String()[:8],
		Description: args.Description,
		Skills:      args.Skills,
		Type:        args.SubagentType,
		Status:      TaskRunning,
	}
	d.mu.Lock()
	d.tasks[task.ID] = task
	d.mu.Unlock()

	childNS := path.Join("tasks", task.ID)
	childState := NewTurnState(state.Store().Namespace(childNS), path.Join(state.Namespace, childNS))

	mws := []Middleware{NewIntegrityPatcher(), NewEvictor(d.config)}
	if d.ChildMiddleware != nil {
		mws = d.ChildMiddleware()
	}
	mws = append(mws, newDelegatorAtDepth(d.client, d.config, d.depth+1))

	child := NewScheduler(d.client, childState.Store(), nil, d.config, mws...)
	defer child.Close()

	input := args.Description
	if args.SubagentType != "" {
		input = fmt.Sprintf("[worker: %s]\n%s", args.SubagentType, input)
	}
	if len(args.Skills) > 0 {
		input += "\nRelevant skills: " + strings.Join(args.Skills, ", ")
	}

	result, err := child.ExecuteTurn(ctx, childState, input)
	if err != nil {
		d.finish(task, TaskFailed, "")
		return "", fmt.Errorf("delegated task %s failed: %w", task.ID, err)
	}
	if result.Status != StatusCompleted {
		d.finish(task, TaskFailed, "")
		return "", fmt.Errorf("delegated task %s ended without an answer (%s)", task.ID, result.Status)
	}

	summary := result.Response
	if limit := d.config.SummaryLimit; limit > 0 && len(summary) > limit {
		summary = summary[:limit] + "\n[summary truncated]"
	}
	d.finish(task, TaskCompleted, summary)
	return summary, nil
}

func (d *Delegator) finish(task *SubagentTask, status TaskStatus, summary string) {
	d.mu.Lock()
	task.Status = status
	task.Summary = summary
	d.mu.Unlock()
}

var (
	_ ModelCallWrapper = (*Delegator)(nil)
	_ ToolProvider     = (*Delegator)(nil)
)
