package memory

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type textProvider struct {
	reply    string
	err      error
	messages []conversation.Message
	opts     engine.CompletionOptions
}

func (p *textProvider) Name() string { return "fake" }

func (p *textProvider) StreamCompletion(ctx context.Context, msgs []conversation.Message, opts engine.CompletionOptions) (<-chan engine.Frame, error) {
	p.messages = msgs
	p.opts = opts
	if p.err != nil {
		return nil, p.err
	}
	out := make(chan engine.Frame, 2)
	out <- engine.TextFrame(p.reply)
	close(out)
	return out, nil
}

func textOfLen(n int) string {
	return strings.Repeat("x", n)
}

func TestShouldCompressIsStrict(t *testing.T) {
	m := NewManager(Config{Threshold: 10})
	// 40 chars = 10 tokens
	at := []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, textOfLen(40))}
	assert.False(t, m.ShouldCompress(at))

	above := []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, textOfLen(41))}
	assert.True(t, m.ShouldCompress(above))

	assert.False(t, NewManager(Config{}).ShouldCompress(above))
}

func TestCharEstimatorRoundsUp(t *testing.T) {
	assert.Equal(t, 0, CharEstimator{}.EstimateText(""))
	assert.Equal(t, 1, CharEstimator{}.EstimateText("abc"))
	assert.Equal(t, 2, CharEstimator{}.EstimateText("abcde"))
}

func TestCompressParsesState(t *testing.T) {
	p := &textProvider{reply: "```json\n" + `{
		"summary": "api pods crashloop after deploy",
		"identified_issues": [{"service": "api", "issue": "OOMKilled", "confidence": "high"}],
		"investigated_services": ["api", "db"],
		"tools_used": ["get_pods", "get_logs"],
		"current_task": "checking memory limits"
	}` + "\n```"}
	m := NewManager(DefaultConfig())

	msgs := []conversation.Message{
		conversation.NewTextMessage(conversation.RoleUser, "why is api down?"),
		conversation.NewTextMessage(conversation.RoleAssistant, "looking"),
	}
	state, err := m.Compress(context.Background(), msgs, p)
	require.NoError(t, err)

	assert.Equal(t, "api pods crashloop after deploy", state.Summary)
	require.Len(t, state.IdentifiedIssues, 1)
	assert.Equal(t, "OOMKilled", state.IdentifiedIssues[0].Issue)
	assert.Equal(t, []string{"api", "db"}, state.InvestigatedServices)
	assert.Equal(t, "checking memory limits", state.CurrentTask)
	assert.Equal(t, 2, state.MessageCount)
	assert.Equal(t, 1, state.CompressionLevel)
	assert.Greater(t, state.TokenCount, 0)

	assert.Equal(t, compressionSystemPrompt, p.opts.SystemPrompt)
	require.Len(t, p.messages, 1)
	assert.Contains(t, p.messages[0].Text(), "why is api down?")
}

func TestCompressIncrementsLevel(t *testing.T) {
	p := &textProvider{reply: `{"summary": "second pass"}`}
	m := NewManager(DefaultConfig())

	prev := StateMessage(&ConversationState{Summary: "first pass", CompressionLevel: 2})
	state, err := m.Compress(context.Background(), []conversation.Message{
		prev,
		conversation.NewTextMessage(conversation.RoleUser, "more"),
	}, p)
	require.NoError(t, err)
	assert.Equal(t, 3, state.CompressionLevel)
}

func TestCompressFallsBackToRawSummary(t *testing.T) {
	p := &textProvider{reply: "  The api service is out of memory.  "}
	state, err := NewManager(DefaultConfig()).Compress(context.Background(), nil, p)
	require.NoError(t, err)
	assert.Equal(t, "The api service is out of memory.", state.Summary)
	assert.Empty(t, state.IdentifiedIssues)
}

func TestCompressProviderError(t *testing.T) {
	p := &textProvider{err: errors.New("boom")}
	_, err := NewManager(DefaultConfig()).Compress(context.Background(), nil, p)
	assert.Error(t, err)
}

func TestStateMessageRendersState(t *testing.T) {
	state := &ConversationState{
		Summary:          "db connection refused",
		IdentifiedIssues: []Issue{{Service: "db", Issue: "not ready"}},
		CompressionLevel: 1,
		MessageCount:     12,
	}
	msg := StateMessage(state)
	assert.Equal(t, conversation.RoleUser, msg.Role)
	assert.Equal(t, "1", msg.Metadata[conversation.MetadataCompressionLevel])

	text := msg.Text()
	assert.Contains(t, text, "covering 12 earlier messages")
	assert.Contains(t, text, "summary: db connection refused")
	assert.Contains(t, text, "service: db")
	assert.NotContains(t, text, "token_count")
	assert.Equal(t, 1, PreviousLevel([]conversation.Message{msg}))
}

func toolBatch(id string, content string) []conversation.Message {
	return []conversation.Message{
		conversation.NewToolCallMessage("", []conversation.ToolCall{{ID: id, Name: "get_logs"}}),
		conversation.NewToolResultsMessage([]conversation.ToolResult{{ToolCallID: id, Name: "get_logs", Content: content}}),
	}
}

func TestMaskObservations(t *testing.T) {
	m := NewManager(Config{MaskMinChars: 100, KeepRecentToolResults: 1})

	var msgs []conversation.Message
	msgs = append(msgs, conversation.NewTextMessage(conversation.RoleUser, "investigate"))
	msgs = append(msgs, toolBatch("1", textOfLen(1000))...)
	msgs = append(msgs, toolBatch("2", textOfLen(50))...)
	msgs = append(msgs, toolBatch("3", textOfLen(1000))...)
	msgs = append(msgs, toolBatch("4", textOfLen(1000))...)

	masked, stats := m.MaskObservations(msgs)
	assert.Equal(t, 2, stats.MaskedParts)
	assert.Greater(t, stats.TokensSaved, 400)

	results := func(i int) conversation.ToolResult { return masked[i].ToolResults()[0] }
	assert.True(t, results(2).Masked)
	assert.Contains(t, results(2).Content, "1000 characters elided")
	assert.False(t, results(4).Masked, "small results are kept")
	// KeepRecentToolResults is covered by the current batch, so batch 3 is masked
	assert.True(t, results(6).Masked)
	assert.False(t, results(8).Masked)
	assert.Len(t, results(8).Content, 1000)

	// the input is untouched
	assert.Len(t, msgs[2].ToolResults()[0].Content, 1000)

	again, stats := m.MaskObservations(masked)
	assert.Equal(t, 0, stats.MaskedParts)
	assert.Equal(t, masked[2].ToolResults()[0].Content, again[2].ToolResults()[0].Content)
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator("", "")
	require.NoError(t, err)
	assert.IsType(t, CharEstimator{}, e)

	_, err = NewEstimator("bogus", "")
	assert.Error(t, err)
}

func TestCompressTranscriptCutsOnRuneBoundary(t *testing.T) {
	p := &textProvider{reply: `{"summary": "ok"}`}
	cfg := DefaultConfig()
	cfg.TranscriptMaxChars = 11
	m := NewManager(cfg)

	msgs := []conversation.Message{
		conversation.NewTextMessage(conversation.RoleUser, strings.Repeat("é", 10)),
	}
	_, err := m.Compress(context.Background(), msgs, p)
	require.NoError(t, err)

	require.Len(t, p.messages, 1)
	text := p.messages[0].Text()
	assert.True(t, utf8.ValidString(text))
	assert.Contains(t, text, "[user]: é ...[18 chars omitted]")
}
