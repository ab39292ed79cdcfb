package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/inference/streamjson"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EstimatorChars    = "chars"
	EstimatorTiktoken = "tiktoken"
)

type Config struct {
	// Threshold is the token estimate above which history is compressed.
	Threshold             int    `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	MaskMinChars          int    `json:"mask_min_chars" yaml:"mask_min_chars" mapstructure:"mask_min_chars"`
	KeepRecentToolResults int    `json:"keep_recent_tool_results" yaml:"keep_recent_tool_results" mapstructure:"keep_recent_tool_results"`
	Estimator             string `json:"estimator" yaml:"estimator" mapstructure:"estimator"`
	// SummaryMaxTokens caps the summarisation completion.
	SummaryMaxTokens int `json:"summary_max_tokens" yaml:"summary_max_tokens" mapstructure:"summary_max_tokens"`
	// TranscriptMaxChars caps each message in the summarisation transcript.
	TranscriptMaxChars int `json:"transcript_max_chars" yaml:"transcript_max_chars" mapstructure:"transcript_max_chars"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:             40000,
		MaskMinChars:          2000,
		KeepRecentToolResults: 3,
		Estimator:             EstimatorChars,
		SummaryMaxTokens:      2048,
		TranscriptMaxChars:    4000,
	}
}

// Manager keeps a conversation inside the context budget by masking old
// tool output and compressing history into a ConversationState.
type Manager struct {
	config    Config
	estimator TokenEstimator
	logger    zerolog.Logger
}

type Option func(*Manager)

func WithEstimator(e TokenEstimator) Option {
	return func(m *Manager) {
		m.estimator = e
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(config Config, opts ...Option) *Manager {
	m := &Manager{
		config:    config,
		estimator: CharEstimator{},
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "memory").Logger()
	return m
}

func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) EstimateTokens(msgs []conversation.Message) int {
	return m.estimator.EstimateMessages(msgs)
}

// ShouldCompress reports whether the estimate is strictly above the threshold.
func (m *Manager) ShouldCompress(msgs []conversation.Message) bool {
	if m.config.Threshold <= 0 {
		return false
	}
	return m.EstimateTokens(msgs) > m.config.Threshold
}

const compressionSystemPrompt = `You compress the working memory of a Kubernetes debugging agent.
Read the conversation and reply with a single JSON object and nothing else:

{
  "summary": "what has been investigated and learned so far",
  "identified_issues": [{"service": "name", "issue": "description", "confidence": "high|medium|low"}],
  "investigated_services": ["service names already examined"],
  "tools_used": ["tool names already called"],
  "current_task": "what the agent was doing when the conversation was compressed"
}

Keep concrete evidence such as error messages, pod names and exit codes. Drop repetition.`

// Compress summarises msgs with one completion from provider. A reply that
// is not valid JSON becomes the summary verbatim.
func (m *Manager) Compress(ctx context.Context, msgs []conversation.Message, provider engine.Provider) (*ConversationState, error) {
	if provider == nil {
		return nil, errors.New("no provider to compress with")
	}

	transcript := m.transcript(msgs)
	frames, err := provider.StreamCompletion(ctx,
		[]conversation.Message{conversation.NewTextMessage(conversation.RoleUser, transcript)},
		engine.CompletionOptions{
			SystemPrompt: compressionSystemPrompt,
			MaxTokens:    m.config.SummaryMaxTokens,
			ToolChoice:   engine.ToolChoiceNone,
		})
	if err != nil {
		return nil, errors.Wrap(err, "could not start compression")
	}
	text, _, err := engine.Collect(ctx, frames)
	if err != nil {
		return nil, errors.Wrap(err, "compression stream failed")
	}

	state := parseState(text)
	state.MessageCount = len(msgs)
	state.CompressionLevel = PreviousLevel(msgs) + 1
	state.TokenCount = m.estimator.EstimateText(BuildPromptFromState(state))

	m.logger.Info().
		Int("messages", state.MessageCount).
		Int("level", state.CompressionLevel).
		Int("tokens_before", m.EstimateTokens(msgs)).
		Int("tokens_after", state.TokenCount).
		Msg("compressed conversation")
	return state, nil
}

func (m *Manager) transcript(msgs []conversation.Message) string {
	var sb strings.Builder
	sb.WriteString("Conversation to compress:\n\n")
	for _, msg := range msgs {
		s := msg.String()
		if limit := m.config.TranscriptMaxChars; limit > 0 && len(s) > limit {
			head := tools.CutPrefix(s, limit)
			s = head + fmt.Sprintf(" ...[%d chars omitted]", len(s)-len(head))
		}
		sb.WriteString(s)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func parseState(text string) *ConversationState {
	stripped := streamjson.StripFences(text)
	if i := strings.IndexByte(stripped, '{'); i >= 0 {
		if obj, ok := streamjson.ExtractBalancedJSON(stripped, i); ok {
			state := &ConversationState{}
			if err := json.Unmarshal([]byte(obj), state); err == nil {
				return state
			}
		}
	}
	return &ConversationState{Summary: strings.TrimSpace(text)}
}
