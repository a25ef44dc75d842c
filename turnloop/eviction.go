package turnloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// Evictor keeps oversized tool results out of the conversation. A
// result above Config.EvictionThreshold token-equivalents is written to
// the turn's store namespace and replaced with a short reference; the
// full content stays retrievable through the store tools the Evictor
// contributes. A store failure keeps the original result inline with a
// note appended; content is never dropped.
type Evictor struct {
	config  *Config
	emitter *Emitter
}

// NewEvictor creates the eviction middleware.
func NewEvictor(cfg *Config) *Evictor {
	return &Evictor{config: cfg}
}

func (e *Evictor) Name() string { return "eviction_manager" }

// SetEmitter attaches an event stream. Optional.
func (e *Evictor) SetEmitter(em *Emitter) { e.emitter = em }

func (e *Evictor) WrapToolCall(ctx context.Context, state *TurnState, call modelcall.ToolCall, next ToolCallFunc) (modelcall.ToolResult, error) {
	result, err := next(ctx, call)
	if err != nil {
		return result, err
	}
	if result.IsError || call.Name == "store_read" {
		return result, nil
	}
	size := e.config.estimator()(modelcall.Message{Role: modelcall.RoleTool, Content: result.Content})
	if size <= e.config.EvictionThreshold {
		return result, nil
	}

	path := fmt.Sprintf("results/%s_%d.txt", call.Name, state.nextResultSeq())
	provenance := fmt.Sprintf("%s:%s", call.Name, call.ID)
	entry, werr := state.Store().Write(ctx, path, []byte(result.Content), provenance)
	if werr != nil {
		e.config.logger().Warn("eviction write failed, keeping result inline",
			"state_id", state.ID, "tool", call.Name, "path", path, "error", werr)
		e.emitter.Emit(EventWarning, map[string]any{
			"warning": "eviction write failed",
			"path":    path,
			"error":   werr.Error(),
		})
		result.Content += fmt.Sprintf("\n\n[store unavailable, result kept inline: %v]", werr)
		return result, nil
	}

	e.emitter.Emit(EventEviction, map[string]any{
		"tool":  call.Name,
		"path":  entry.Path,
		"bytes": len(result.Content),
	})
	result.Content = fmt.Sprintf("Saved %s result to /%s. Use store_read to retrieve it.",
		humanSize(len(result.Content)), path)
	return result, nil
}

// Tools exposes the store to the model for retrieving evicted results
// and browsing namespace contents.
func (e *Evictor) Tools() []Tool {
	return []Tool{
		{
			Name:        "store_read",
			Description: "Read the full content stored at a path, such as one returned by an evicted tool result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Store path to read."},
				},
				"required": []string{"path"},
			},
			Run: func(ctx context.Context, raw json.RawMessage, state *TurnState) (string, error) {
				path, err := pathArg(raw)
				if err != nil {
					return "", err
				}
				content, err := state.Store().Read(ctx, path)
				if err != nil {
					return "", err
				}
				return string(content), nil
			},
		},
		{
			Name:        "store_list",
			Description: "List store paths under a prefix. An empty prefix lists everything in the current namespace.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prefix": map[string]any{"type": "string", "description": "Path prefix to list."},
				},
			},
			Run: func(ctx context.Context, raw json.RawMessage, state *TurnState) (string, error) {
				args, err := ParseArguments(raw)
				if err != nil {
					return "", err
				}
				prefix, err := StringArg(args, "prefix", false)
				if err != nil {
					return "", err
				}
				paths, err := state.Store().List(ctx, prefix)
				if err != nil {
					return "", err
				}
				if len(paths) == 0 {
					return "(no entries)", nil
				}
				return strings.Join(paths, "\n"), nil
			},
		},
		{
			Name:        "store_search",
			Description: "Find store paths matching a glob pattern, for example results/*.txt.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string", "description": "Glob pattern over store paths."},
				},
				"required": []string{"pattern"},
			},
			Run: func(ctx context.Context, raw json.RawMessage, state *TurnState) (string, error) {
				args, err := ParseArguments(raw)
				if err != nil {
					return "", err
				}
				pattern, err := StringArg(args, "pattern", true)
				if err != nil {
					return "", err
				}
				paths, err := state.Store().Search(ctx, pattern)
				if err != nil {
					return "", err
				}
				if len(paths) == 0 {
					return "(no matches)", nil
				}
				return strings.Join(paths, "\n"), nil
			},
		},
	}
}

func pathArg(raw json.RawMessage) (string, error) {
	args, err := ParseArguments(raw)
	if err != nil {
		return "", err
	}
	return StringArg(args, "path", true)
}

// humanSize formats a byte count the way a person would say it.
func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%dKB", n/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

var (
	_ ToolCallWrapper = (*Evictor)(nil)
	_ ToolProvider    = (*Evictor)(nil)
)
