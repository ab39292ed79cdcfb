package openai

import (
	"github.com/huandu/go-clone"
	"github.com/spf13/viper"
)

const (
	DefaultModel   = "gpt-4o"
	DefaultBaseURL = "https://api.openai.com/v1"
)

type Settings struct {
	APIKey       string   `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL      string   `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Organization string   `yaml:"organization,omitempty" mapstructure:"organization"`
	Model        string   `yaml:"model" mapstructure:"model"`
	MaxTokens    int      `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature  *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	// ParallelToolCalls lets the model issue several calls per turn.
	ParallelToolCalls *bool `yaml:"parallel_tool_calls,omitempty" mapstructure:"parallel_tool_calls"`
	// AllowLocalBaseURL permits http and private-network base URLs, for
	// proxies and tests.
	AllowLocalBaseURL bool `yaml:"allow_local_base_url,omitempty" mapstructure:"allow_local_base_url"`
}

func NewSettings() *Settings {
	return &Settings{
		Model:   DefaultModel,
		BaseURL: DefaultBaseURL,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// UpdateFromViper fills unset fields from the global configuration,
// including the conventional OPENAI_API_KEY environment variable.
func (s *Settings) UpdateFromViper(v *viper.Viper) {
	if s.APIKey == "" {
		s.APIKey = v.GetString("openai_api_key")
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
}
