package claude

import (
	"github.com/huandu/go-clone"
	"github.com/spf13/viper"
)

const (
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultMaxTokens = 4096
)

type Settings struct {
	APIKey      string   `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string   `yaml:"base_url,omitempty" mapstructure:"base_url"`
	APIVersion  string   `yaml:"api_version,omitempty" mapstructure:"api_version"`
	Model       string   `yaml:"model" mapstructure:"model"`
	MaxTokens   int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature *float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	// AllowLocalBaseURL permits http and private-network base URLs, for
	// proxies and tests.
	AllowLocalBaseURL bool `yaml:"allow_local_base_url,omitempty" mapstructure:"allow_local_base_url"`
}

func NewSettings() *Settings {
	return &Settings{
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// UpdateFromViper fills unset fields from the global configuration,
// including the conventional ANTHROPIC_API_KEY environment variable.
func (s *Settings) UpdateFromViper(v *viper.Viper) {
	if s.APIKey == "" {
		s.APIKey = v.GetString("anthropic_api_key")
	}
	if s.APIKey == "" {
		s.APIKey = v.GetString("claude_api_key")
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
}
