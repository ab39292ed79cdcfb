package settings

import (
	"github.com/go-go-golems/lifeguard/pkg/inference/memory"
	"github.com/go-go-golems/lifeguard/pkg/inference/orchestrator"
	"github.com/go-go-golems/lifeguard/pkg/inference/resilience"
	"github.com/go-go-golems/lifeguard/pkg/inference/safety"
	"github.com/huandu/go-clone"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	// ProviderClaude is accepted as an alias of ProviderAnthropic.
	ProviderClaude = "claude"
)

// AgentSettings holds the knobs of the agent runtime itself.
type AgentSettings struct {
	Provider     string                   `yaml:"provider" mapstructure:"provider"`
	SystemPrompt string                   `yaml:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Orchestrator orchestrator.Config      `yaml:"orchestrator" mapstructure:"orchestrator"`
	Safety       safety.Config            `yaml:"safety" mapstructure:"safety"`
	Breaker      resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Memory       memory.Config            `yaml:"memory" mapstructure:"memory"`
}

func NewAgentSettings() *AgentSettings {
	return &AgentSettings{
		Provider:     ProviderOpenAI,
		Orchestrator: orchestrator.DefaultConfig(),
		Safety:       safety.DefaultConfig(),
		Breaker:      resilience.DefaultBreakerConfig(),
		Memory:       memory.DefaultConfig(),
	}
}

func (a *AgentSettings) Clone() *AgentSettings {
	return clone.Clone(a).(*AgentSettings)
}

// NormalizedProvider maps aliases to the canonical provider name.
func (a *AgentSettings) NormalizedProvider() string {
	if a.Provider == ProviderClaude {
		return ProviderAnthropic
	}
	return a.Provider
}
