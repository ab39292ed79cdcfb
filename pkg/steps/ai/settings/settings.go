package settings

import (
	"io"

	"github.com/go-go-golems/lifeguard/pkg/security"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/settings/claude"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/settings/openai"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the full configuration of a lifeguard session. The YAML and
// viper layouts are the same: one top-level key per section.
type Settings struct {
	Agent  *AgentSettings   `yaml:"agent,omitempty" mapstructure:"agent"`
	Client *ClientSettings  `yaml:"client,omitempty" mapstructure:"client"`
	OpenAI *openai.Settings `yaml:"openai,omitempty" mapstructure:"openai"`
	Claude *claude.Settings `yaml:"claude,omitempty" mapstructure:"claude"`
}

func NewSettings() *Settings {
	return &Settings{
		Agent:  NewAgentSettings(),
		Client: NewClientSettings(),
		OpenAI: openai.NewSettings(),
		Claude: claude.NewSettings(),
	}
}

// NewSettingsFromYAML decodes r over the defaults.
func NewSettingsFromYAML(r io.Reader) (*Settings, error) {
	s := NewSettings()
	if err := yaml.NewDecoder(r).Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	return s, s.Validate()
}

// LoadFromViper decodes the viper configuration over the defaults. Keys
// bound to flags (e.g. "agent.provider") take part like any other key.
func LoadFromViper(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	s.OpenAI.UpdateFromViper(v)
	s.Claude.UpdateFromViper(v)
	return s, s.Validate()
}

func (s *Settings) Validate() error {
	switch s.Agent.NormalizedProvider() {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return errors.Errorf("unknown provider %q, expected %s or %s", s.Agent.Provider, ProviderOpenAI, ProviderAnthropic)
	}
	if s.Agent.Orchestrator.MaxIterations < 0 || s.Agent.Orchestrator.MaxToolCalls < 0 {
		return errors.New("iteration and tool call limits must not be negative")
	}
	return nil
}

// Model returns the model of the selected provider.
func (s *Settings) Model() string {
	if s.Agent.NormalizedProvider() == ProviderAnthropic {
		return s.Claude.Model
	}
	return s.OpenAI.Model
}

// GetMetadata summarises the settings for logs. API keys are redacted.
func (s *Settings) GetMetadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"provider":       s.Agent.NormalizedProvider(),
		"model":          s.Model(),
		"max-iterations": s.Agent.Orchestrator.MaxIterations,
		"max-tool-calls": s.Agent.Orchestrator.MaxToolCalls,
		"retry-budget":   s.Agent.Orchestrator.RetryBudget,
	}
	if s.Client != nil && s.Client.Timeout > 0 {
		metadata["timeout"] = s.Client.Timeout.String()
	}
	if s.OpenAI != nil && s.OpenAI.BaseURL != "" && s.OpenAI.BaseURL != openai.DefaultBaseURL {
		metadata["openai-base-url"] = s.OpenAI.BaseURL
	}
	if s.Claude != nil && s.Claude.BaseURL != "" {
		metadata["claude-base-url"] = s.Claude.BaseURL
	}
	switch s.Agent.NormalizedProvider() {
	case ProviderOpenAI:
		metadata["api-key"] = security.Redact(s.OpenAI.APIKey)
	case ProviderAnthropic:
		metadata["api-key"] = security.Redact(s.Claude.APIKey)
	}
	if s.Agent.Memory.Threshold > 0 {
		metadata["compress-threshold"] = s.Agent.Memory.Threshold
	}
	return metadata
}

func (s *Settings) Clone() *Settings {
	return &Settings{
		Agent:  s.Agent.Clone(),
		Client: s.Client.Clone(),
		OpenAI: s.OpenAI.Clone(),
		Claude: s.Claude.Clone(),
	}
}
