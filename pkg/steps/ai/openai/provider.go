package openai

import (
	"context"
	"io"
	"net/http"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/security"
	openaisettings "github.com/go-go-golems/lifeguard/pkg/steps/ai/settings/openai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const ProviderName = "openai"

// Provider streams chat completions from OpenAI or a compatible endpoint.
type Provider struct {
	client   *go_openai.Client
	settings *openaisettings.Settings
	logger   zerolog.Logger
}

var _ engine.Provider = (*Provider)(nil)

type Option func(*providerOptions)

type providerOptions struct {
	logger     *zerolog.Logger
	httpClient *http.Client
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *providerOptions) {
		o.logger = &logger
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *providerOptions) {
		o.httpClient = c
	}
}

func NewProvider(settings *openaisettings.Settings, opts ...Option) (*Provider, error) {
	if settings == nil {
		return nil, errors.New("no openai settings")
	}
	s := settings.Clone()
	if s.APIKey == "" {
		return nil, errors.New("no openai API key configured")
	}
	if s.BaseURL == "" {
		s.BaseURL = openaisettings.DefaultBaseURL
	}

	if err := security.ValidateOutboundURL(s.BaseURL, security.OptionsFor(s.AllowLocalBaseURL)); err != nil {
		return nil, errors.Wrap(err, "invalid openai base URL")
	}

	o := &providerOptions{}
	for _, opt := range opts {
		opt(o)
	}

	config := go_openai.DefaultConfig(s.APIKey)
	config.BaseURL = s.BaseURL
	config.OrgID = s.Organization
	config.HTTPClient = withRetryAfterTransport(o.httpClient)

	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	return &Provider{
		client:   go_openai.NewClientWithConfig(config),
		settings: s,
		logger:   logger.With().Str("component", "openai").Str("model", s.Model).Logger(),
	}, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) buildRequest(messages []conversation.Message, opts engine.CompletionOptions) go_openai.ChatCompletionRequest {
	req := go_openai.ChatCompletionRequest{
		Model:    p.settings.Model,
		Messages: messagesToOpenAI(opts.SystemPrompt, messages),
		Stream:   true,
		StreamOptions: &go_openai.StreamOptions{
			IncludeUsage: true,
		},
		MaxTokens: p.settings.MaxTokens,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	temperature := p.settings.Temperature
	if opts.Temperature != nil {
		temperature = opts.Temperature
	}
	if temperature != nil {
		req.Temperature = float32(*temperature)
	}

	if tools := toolsToOpenAI(opts.Tools); len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = toolChoiceToOpenAI(opts.ToolChoice)
		if p.settings.ParallelToolCalls != nil {
			req.ParallelToolCalls = *p.settings.ParallelToolCalls
		}
	}
	return req
}

// StreamCompletion opens a streaming chat completion. Text deltas are
// forwarded as they arrive; tool calls are emitted as one batch once the
// stream reports a finish reason.
func (p *Provider) StreamCompletion(ctx context.Context, messages []conversation.Message, opts engine.CompletionOptions) (<-chan engine.Frame, error) {
	req := p.buildRequest(messages, opts)

	p.logger.Debug().
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("starting openai stream")

	openCtx, retryAfter := withRetryAfterCapture(ctx)
	stream, err := p.client.CreateChatCompletionStream(openCtx, req)
	if err != nil {
		return nil, wrapOpenError(err, retryAfter)
	}

	out := make(chan engine.Frame)
	go func() {
		defer close(out)
		defer func() {
			_ = stream.Close()
		}()

		merger := NewToolCallMerger()
		var usage engine.Usage
		finished := false
		chunks := 0

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				p.logger.Debug().Err(err).Int("chunks", chunks).Msg("openai stream receive failed")
				engine.Send(ctx, out, engine.ErrorFrame(err))
				return
			}
			chunks++

			if response.Usage != nil {
				usage.InputTokens = response.Usage.PromptTokens
				usage.OutputTokens = response.Usage.CompletionTokens
				if response.Usage.PromptTokensDetails != nil {
					usage.CacheReadInputTokens = response.Usage.PromptTokensDetails.CachedTokens
				}
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.Delta.Content != "" {
				if !engine.Send(ctx, out, engine.TextFrame(choice.Delta.Content)) {
					return
				}
			}
			if len(choice.Delta.ToolCalls) > 0 {
				merger.AddToolCalls(choice.Delta.ToolCalls)
			}
			if choice.FinishReason != "" {
				finished = true
			}
		}

		if ctx.Err() != nil {
			engine.Send(ctx, out, engine.ErrorFrame(ctx.Err()))
			return
		}
		if !finished {
			engine.Send(ctx, out, engine.ErrorFrame(
				errors.Wrap(io.ErrUnexpectedEOF, "openai stream ended without a finish reason")))
			return
		}

		if merger.Len() > 0 {
			calls, err := merger.ToolCalls()
			if err != nil {
				engine.Send(ctx, out, engine.ErrorFrame(err))
				return
			}
			if !engine.Send(ctx, out, engine.ToolCallsFrame(calls)) {
				return
			}
		}
		engine.Send(ctx, out, engine.UsageFrame(usage))
	}()
	return out, nil
}
