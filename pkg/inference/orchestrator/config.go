package orchestrator

import (
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/inference/loopdetect"
	"github.com/go-go-golems/lifeguard/pkg/inference/streamjson"
)

// Config bounds a run.
type Config struct {
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
	// MaxToolCalls caps the tool calls of a whole run, across iterations.
	MaxToolCalls     int `json:"max_tool_calls" yaml:"max_tool_calls" mapstructure:"max_tool_calls"`
	RetryBudget      int `json:"retry_budget" yaml:"retry_budget" mapstructure:"retry_budget"`
	MaxRepeatedCalls int `json:"max_repeated_calls" yaml:"max_repeated_calls" mapstructure:"max_repeated_calls"`
	// MaxParallelTools limits concurrent calls within a batch. 0 runs the whole batch at once.
	MaxParallelTools int `json:"max_parallel_tools" yaml:"max_parallel_tools" mapstructure:"max_parallel_tools"`

	MaxTokens   int               `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty" yaml:"temperature,omitempty" mapstructure:"temperature"`
	ToolChoice  engine.ToolChoice `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty" mapstructure:"tool_choice"`
	// MarkerKey is the field that marks a structured final answer.
	MarkerKey string `json:"marker_key" yaml:"marker_key" mapstructure:"marker_key"`
	// ErrorContext names the backend in user-facing failure messages.
	ErrorContext string `json:"error_context" yaml:"error_context" mapstructure:"error_context"`
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:    15,
		MaxToolCalls:     30,
		RetryBudget:      3,
		MaxRepeatedCalls: loopdetect.DefaultMaxRepeatedCalls,
		ToolChoice:       engine.ToolChoiceAuto,
		MarkerKey:        streamjson.DefaultMarkerKey,
		ErrorContext:     "the AI provider",
	}
}

func (c Config) WithMaxIterations(n int) Config {
	c.MaxIterations = n
	return c
}

func (c Config) WithMaxToolCalls(n int) Config {
	c.MaxToolCalls = n
	return c
}

func (c Config) WithRetryBudget(n int) Config {
	c.RetryBudget = n
	return c
}

func (c Config) WithMaxParallelTools(n int) Config {
	c.MaxParallelTools = n
	return c
}

// normalized fills zero values with defaults. RetryBudget 0 is kept: it disables retries.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = d.MaxToolCalls
	}
	if c.RetryBudget < 0 {
		c.RetryBudget = 0
	}
	if c.MaxRepeatedCalls <= 0 {
		c.MaxRepeatedCalls = d.MaxRepeatedCalls
	}
	if c.MarkerKey == "" {
		c.MarkerKey = d.MarkerKey
	}
	if c.ErrorContext == "" {
		c.ErrorContext = d.ErrorContext
	}
	return c
}
