package modelcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmClient implements Client on top of a gollm.LLM instance.
type GollmClient struct {
	provider string
	model    string
	llm      gollm.LLM
}

// GollmOption configures a GollmClient.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	maxTokens   int
	temperature float64
	extra       []gollm.ConfigOption
}

// WithAPIKey sets the provider API key. When empty, gollm falls back to
// the provider's conventional environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithMaxTokens sets the default completion token limit.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extra = append(c.extra, opts...) }
}

// NewGollmClient creates a client for the given provider and model.
func NewGollmClient(provider, model string, opts ...GollmOption) (*GollmClient, error) {
	cfg := &gollmConfig{maxTokens: 4096, temperature: 0.7}
	for _, opt := range opts {
		opt(cfg)
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // the runtime owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extra...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("modelcall: create gollm client for %s: %w", provider, err)
	}
	return &GollmClient{provider: provider, model: model, llm: llm}, nil
}

// Provider returns the provider identifier.
func (c *GollmClient) Provider() string { return c.provider }

// Complete satisfies Client.
func (c *GollmClient) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := c.buildPrompt(req)
	if req.Model != "" && req.Model != c.model {
		c.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		c.llm.SetOption("temperature", *req.Temperature)
	}

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, classifyError(c.provider, err)
	}
	return c.buildResponse(req, text), nil
}

// buildPrompt flattens the conversation into gollm's prompt shape:
// system text up front, tools attached, and the remaining turns joined
// as labelled context.
func (c *GollmClient) buildPrompt(req Request) *gollm.Prompt {
	system := req.System
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Tool Call %s]: %s(%s)", tc.ID, tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(system), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// buildResponse assembles a Response from generated text, lifting any
// embedded tool-call JSON into structured calls.
func (c *GollmClient) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = c.model
	}

	calls := parseToolCalls(text)
	cleaned := text
	if len(calls) > 0 {
		cleaned = stripToolCallJSON(text)
	}

	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	}

	inTokens := estimateRequestTokens(req)
	outTokens := len(text) / 4

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     c.provider,
		Message:      AssistantMessage(cleaned, calls...),
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  inTokens,
			OutputTokens: outTokens,
			TotalTokens:  inTokens + outTokens,
		},
	}
}

// parseToolCalls extracts tool calls embedded as JSON in generated text.
// gollm surfaces provider tool calls this way for some providers.
func parseToolCalls(text string) []ToolCall {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		start = strings.Index(text, `{"tool_calls"`)
	}
	if start == -1 {
		return nil
	}

	var raw []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &raw); err != nil {
		return nil
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func stripToolCallJSON(text string) string {
	for _, marker := range []string{`[{"name"`, `{"tool_calls"`} {
		if idx := strings.Index(text, marker); idx != -1 {
			text = strings.TrimSpace(text[:idx])
		}
	}
	return text
}

func estimateRequestTokens(req Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
