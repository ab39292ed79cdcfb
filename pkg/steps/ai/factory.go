package ai

import (
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/claude"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/openai"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ProviderFactory builds the provider selected by the agent settings.
type ProviderFactory struct {
	Settings *settings.Settings
	Logger   zerolog.Logger
}

func NewProviderFactory(s *settings.Settings) *ProviderFactory {
	return &ProviderFactory{Settings: s, Logger: log.Logger}
}

func (f *ProviderFactory) NewProvider() (engine.Provider, error) {
	if f.Settings == nil || f.Settings.Agent == nil {
		return nil, errors.New("no agent settings")
	}
	s := f.Settings.Clone()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	httpClient := settings.NewClientSettings().Client()
	if s.Client != nil {
		httpClient = s.Client.Client()
	}

	switch s.Agent.NormalizedProvider() {
	case settings.ProviderOpenAI:
		return openai.NewProvider(s.OpenAI,
			openai.WithLogger(f.Logger),
			openai.WithHTTPClient(httpClient),
		)
	case settings.ProviderAnthropic:
		return claude.NewProvider(s.Claude,
			claude.WithLogger(f.Logger),
			claude.WithHTTPClient(httpClient),
		)
	default:
		return nil, errors.Errorf("unsupported provider %q", s.Agent.Provider)
	}
}
