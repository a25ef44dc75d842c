package turnloop

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mhalvorsen/turnstile/modelcall"
)

// SizeEstimator converts a message into an approximate token count. The
// default divides character length by four; hosts with a real tokenizer
// can plug in something better.
type SizeEstimator func(msg modelcall.Message) int

// DefaultEstimator is the len/4 character heuristic applied to message
// content and tool-call arguments.
func DefaultEstimator(msg modelcall.Message) int {
	n := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += len(tc.Name) + len(tc.Arguments)
	}
	return n / 4
}

// EstimateConversation sums the estimator over a message history.
func EstimateConversation(msgs []modelcall.Message, est SizeEstimator) int {
	if est == nil {
		est = DefaultEstimator
	}
	total := 0
	for _, m := range msgs {
		total += est(m)
	}
	return total
}

// Config holds every tunable of the runtime. Pass one instance into
// NewScheduler; there is no ambient configuration.
type Config struct {
	// Model is the model identifier sent on every completion request.
	Model string `yaml:"model"`

	// MaxTokens caps completion length; zero leaves it to the client.
	MaxTokens int `yaml:"max_tokens"`

	// MaxToolRounds bounds tool rounds per turn.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// ParallelToolCalls dispatches independent calls of one batch
	// concurrently.
	ParallelToolCalls bool `yaml:"parallel_tool_calls"`

	// CompactionCeiling is the conversation size (token-equivalents)
	// above which the Compactor summarizes older history.
	CompactionCeiling int `yaml:"compaction_ceiling"`

	// RetainMessages is the number of most recent messages the Compactor
	// always keeps verbatim.
	RetainMessages int `yaml:"retain_messages"`

	// EvictionThreshold is the tool result size (token-equivalents)
	// above which the Evictor moves the result into the store.
	EvictionThreshold int `yaml:"eviction_threshold"`

	// SummaryLimit caps, in characters, the delegation summary folded
	// back into a parent conversation.
	SummaryLimit int `yaml:"summary_limit"`

	// MaxDelegateDepth bounds delegation nesting.
	MaxDelegateDepth int `yaml:"max_delegate_depth"`

	// EnableLoopDetection injects a steering notice when recent tool
	// calls repeat.
	EnableLoopDetection bool `yaml:"enable_loop_detection"`

	// LoopWindow is the number of trailing tool calls inspected.
	LoopWindow int `yaml:"loop_window"`

	// Retry governs model-call retries.
	Retry modelcall.RetryPolicy `yaml:"-"`

	// Estimator measures message size. Nil means DefaultEstimator.
	Estimator SizeEstimator `yaml:"-"`

	// Logger receives structured runtime logs. Nil means slog.Default.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxToolRounds:       200,
		ParallelToolCalls:   true,
		CompactionCeiling:   170_000,
		RetainMessages:      6,
		EvictionThreshold:   20_000,
		SummaryLimit:        4_000,
		MaxDelegateDepth:    1,
		EnableLoopDetection: true,
		LoopWindow:          10,
		Retry:               modelcall.DefaultRetryPolicy(),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("turnloop: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("turnloop: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) estimator() SizeEstimator {
	if c.Estimator != nil {
		return c.Estimator
	}
	return DefaultEstimator
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
