package turnloop

import (
	"context"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// Middleware is the unit of composition in the turn loop. A middleware
// implements any subset of the capability interfaces below; the
// Scheduler discovers capabilities by type assertion. The first
// middleware registered is the outermost layer for wrapped calls and
// the first to run for pre-turn hooks.
type Middleware interface {
	Name() string
}

// PreTurnHook runs before the first model call of each turn. It may
// mutate the state, including the message history.
type PreTurnHook interface {
	BeforeTurn(ctx context.Context, state *TurnState) error
}

// ModelCallFunc performs one model call.
type ModelCallFunc func(ctx context.Context, req *modelcall.Request) (*modelcall.Response, error)

// ModelCallWrapper intercepts model calls. Implementations call next to
// proceed, or short-circuit by returning without calling it.
type ModelCallWrapper interface {
	WrapModelCall(ctx context.Context, state *TurnState, req *modelcall.Request, next ModelCallFunc) (*modelcall.Response, error)
}

// ToolCallFunc performs one tool invocation.
type ToolCallFunc func(ctx context.Context, call modelcall.ToolCall) (modelcall.ToolResult, error)

// ToolCallWrapper intercepts tool calls.
type ToolCallWrapper interface {
	WrapToolCall(ctx context.Context, state *TurnState, call modelcall.ToolCall, next ToolCallFunc) (modelcall.ToolResult, error)
}

// ToolProvider contributes tools to the turn's registry.
type ToolProvider interface {
	Tools() []Tool
}

// buildModelChain wraps base with every ModelCallWrapper in mws.
// Iterating in reverse makes the first-registered middleware outermost.
func buildModelChain(mws []Middleware, state *TurnState, base ModelCallFunc) ModelCallFunc {
	fn := base
	for i := len(mws) - 1; i >= 0; i-- {
		w, ok := mws[i].(ModelCallWrapper)
		if !ok {
			continue
		}
		next := fn
		fn = func(ctx context.Context, req *modelcall.Request) (*modelcall.Response, error) {
			return w.WrapModelCall(ctx, state, req, next)
		}
	}
	return fn
}

// buildToolChain wraps base with every ToolCallWrapper in mws, first
// registered outermost.
func buildToolChain(mws []Middleware, state *TurnState, base ToolCallFunc) ToolCallFunc {
	fn := base
	for i := len(mws) - 1; i >= 0; i-- {
		w, ok := mws[i].(ToolCallWrapper)
		if !ok {
			continue
		}
		next := fn
		fn = func(ctx context.Context, call modelcall.ToolCall) (modelcall.ToolResult, error) {
			return w.WrapToolCall(ctx, state, call, next)
		}
	}
	return fn
}

// runPreTurnHooks runs BeforeTurn on every hook in registration order.
func runPreTurnHooks(ctx context.Context, mws []Middleware, state *TurnState) error {
	for _, m := range mws {
		h, ok := m.(PreTurnHook)
		if !ok {
			continue
		}
		if err := h.BeforeTurn(ctx, state); err != nil {
			return err
		}
	}
	return nil
}
