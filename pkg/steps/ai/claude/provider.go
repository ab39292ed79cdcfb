package claude

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/security"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/claude/api"
	claudesettings "github.com/go-go-golems/lifeguard/pkg/steps/ai/settings/claude"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const ProviderName = "anthropic"

// Provider streams completions from the Anthropic Messages API.
type Provider struct {
	client     *api.Client
	httpClient *http.Client
	settings   *claudesettings.Settings
	logger     zerolog.Logger
}

var _ engine.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithClient replaces the API client, e.g. to point at a test server.
func WithClient(client *api.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// WithHTTPClient sets the HTTP client of the default API client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

func NewProvider(settings *claudesettings.Settings, opts ...Option) (*Provider, error) {
	if settings == nil {
		return nil, errors.New("no claude settings")
	}
	p := &Provider{
		settings: settings.Clone(),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		if p.settings.APIKey == "" {
			return nil, errors.New("no anthropic API key configured")
		}
		p.client = api.NewClient(p.settings.APIKey, p.settings.BaseURL, p.settings.APIVersion)
		p.client.URLOptions = security.OptionsFor(p.settings.AllowLocalBaseURL)
		if p.httpClient != nil {
			p.client.WithHTTPClient(p.httpClient)
		}
	}
	p.logger = p.logger.With().Str("component", "claude").Str("model", p.settings.Model).Logger()
	return p, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) buildRequest(messages []conversation.Message, opts engine.CompletionOptions) (*api.MessageRequest, error) {
	system, msgs := messagesToClaude(messages)
	if opts.SystemPrompt != "" {
		system = strings.TrimSpace(opts.SystemPrompt + "\n\n" + system)
	}
	tools, err := toolsToClaude(opts.Tools)
	if err != nil {
		return nil, err
	}

	req := &api.MessageRequest{
		Model:       p.settings.Model,
		Messages:    msgs,
		MaxTokens:   p.settings.MaxTokens,
		System:      system,
		Temperature: p.settings.Temperature,
		Tools:       tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = toolChoiceToClaude(opts.ToolChoice)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	return req, nil
}

// StreamCompletion opens a streaming request. Errors from the initial HTTP
// exchange are returned directly; later failures arrive as an ErrorFrame.
func (p *Provider) StreamCompletion(ctx context.Context, messages []conversation.Message, opts engine.CompletionOptions) (<-chan engine.Frame, error) {
	req, err := p.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("starting claude stream")

	events, err := p.client.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan engine.Frame)
	go func() {
		defer close(out)
		merger := NewContentBlockMerger()
		for event := range events {
			frames, err := merger.Add(event)
			if err != nil {
				p.logger.Debug().Err(err).Msg("claude stream failed")
				engine.Send(ctx, out, engine.ErrorFrame(err))
				return
			}
			for _, f := range frames {
				if !engine.Send(ctx, out, f) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			engine.Send(ctx, out, engine.ErrorFrame(ctx.Err()))
			return
		}
		if !merger.Stopped() {
			engine.Send(ctx, out, engine.ErrorFrame(
				errors.Wrap(io.ErrUnexpectedEOF, "claude stream ended before message_stop")))
		}
	}()
	return out, nil
}
