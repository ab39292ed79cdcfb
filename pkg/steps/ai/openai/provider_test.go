package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/inference/resilience"
	openaisettings "github.com/go-go-golems/lifeguard/pkg/steps/ai/settings/openai"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := openaisettings.NewSettings()
	s.APIKey = "sk-test"
	s.BaseURL = srv.URL + "/v1"
	s.AllowLocalBaseURL = true
	p, err := NewProvider(s)
	require.NoError(t, err)
	return p
}

func userMessage(text string) []conversation.Message {
	return []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, text)}
}

func TestToolCallMergerOrdersByIndex(t *testing.T) {
	zero, one := 0, 1
	m := NewToolCallMerger()
	m.AddToolCalls([]go_openai.ToolCall{
		{Index: &one, ID: "call_b", Function: go_openai.FunctionCall{Name: "b", Arguments: `{"x":`}},
		{Index: &zero, ID: "call_a", Function: go_openai.FunctionCall{Name: "a"}},
	})
	m.AddToolCalls([]go_openai.ToolCall{
		{Index: &one, Function: go_openai.FunctionCall{Arguments: `1}`}},
	})

	calls, err := m.ToolCalls()
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].ID)
	assert.JSONEq(t, `{}`, string(calls[0].Arguments))
	assert.Equal(t, "call_b", calls[1].ID)
	assert.JSONEq(t, `{"x":1}`, string(calls[1].Arguments))
}

func TestToolCallMergerMalformedArguments(t *testing.T) {
	idx := 0
	m := NewToolCallMerger()
	m.AddToolCalls([]go_openai.ToolCall{
		{Index: &idx, ID: "call_a", Function: go_openai.FunctionCall{Name: "get_pods", Arguments: `{"ns":`}},
	})
	_, err := m.ToolCalls()
	var malformed *engine.MalformedToolCallError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, ProviderName, malformed.Provider)
	assert.Equal(t, `{"ns":`, malformed.Raw)
}

func TestMessagesToOpenAI(t *testing.T) {
	msgs := []conversation.Message{
		conversation.NewTextMessage(conversation.RoleUser, "list pods"),
		conversation.NewToolCallMessage("", []conversation.ToolCall{
			{ID: "call_1", Name: "get_pods", Arguments: json.RawMessage(`{}`)},
			{ID: "call_2", Name: "get_nodes", Arguments: json.RawMessage(`{}`)},
		}),
		conversation.NewToolResultsMessage([]conversation.ToolResult{
			{ToolCallID: "call_1", Name: "get_pods", Content: "3 pods"},
			{ToolCallID: "call_2", Name: "get_nodes", Content: ""},
		}),
	}

	out := messagesToOpenAI("be careful", msgs)
	require.Len(t, out, 5)
	assert.Equal(t, go_openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, go_openai.ChatMessageRoleUser, out[1].Role)
	assert.Equal(t, go_openai.ChatMessageRoleAssistant, out[2].Role)
	require.Len(t, out[2].ToolCalls, 2)
	assert.Equal(t, go_openai.ChatMessageRoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)
	assert.Equal(t, "(no output)", out[4].Content)
}

func TestStreamCompletionTextAndToolCalls(t *testing.T) {
	var body map[string]interface{}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
		writeChunks(w,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_pods","arguments":""}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"ns\":\"default\"}"}}]}}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}}`,
			`[DONE]`,
		)
	})

	frames, err := p.StreamCompletion(context.Background(), userMessage("list pods"), engine.CompletionOptions{
		Tools:      []engine.ToolDefinition{{Name: "get_pods", Description: "list pods"}},
		ToolChoice: engine.ToolChoiceAuto,
	})
	require.NoError(t, err)

	var text string
	var calls []conversation.ToolCall
	var usage *engine.Usage
	for f := range frames {
		switch f.Kind {
		case engine.FrameKindText:
			text += f.Text
		case engine.FrameKindToolCalls:
			calls = f.ToolCalls
		case engine.FrameKindUsage:
			usage = f.Usage
		case engine.FrameKindError:
			t.Fatalf("unexpected error frame: %v", f.Err)
		}
	}

	assert.Equal(t, "Checking", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "get_pods", calls[0].Name)
	assert.JSONEq(t, `{"ns":"default"}`, string(calls[0].Arguments))
	require.NotNil(t, usage)
	assert.Equal(t, 30, usage.InputTokens)
	assert.Equal(t, 12, usage.OutputTokens)
	assert.Equal(t, "auto", body["tool_choice"])
	assert.Equal(t, true, body["stream"])
}

func TestStreamCompletionRateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := p.StreamCompletion(context.Background(), userMessage("hi"), engine.CompletionOptions{})
	var apiErr *go_openai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode)
}

func TestStreamCompletionRateLimitedKeepsRetryAfter(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := p.StreamCompletion(context.Background(), userMessage("hi"), engine.CompletionOptions{})
	require.Error(t, err)

	var wrapped *APIError
	require.True(t, errors.As(err, &wrapped))
	assert.Equal(t, "7", wrapped.RetryAfterHeader())

	classified := resilience.NewClassifier().ClassifyError(resilience.ProviderOpenAI, err)
	assert.Equal(t, resilience.CategoryRateLimited, classified.Category)
	assert.Equal(t, http.StatusTooManyRequests, classified.HTTPStatus)
	assert.Equal(t, 7*time.Second, classified.RetryAfter)
}

func TestStreamCompletionErrorWithoutRetryAfterIsUnwrapped(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	_, err := p.StreamCompletion(context.Background(), userMessage("hi"), engine.CompletionOptions{})
	var wrapped *APIError
	assert.False(t, errors.As(err, &wrapped))
	var apiErr *go_openai.APIError
	require.True(t, errors.As(err, &apiErr))
}

func TestStreamCompletionTruncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w,
			`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"par"}}]}`,
		)
	})

	frames, err := p.StreamCompletion(context.Background(), userMessage("hi"), engine.CompletionOptions{})
	require.NoError(t, err)
	text, _, err := engine.Collect(context.Background(), frames)
	assert.Equal(t, "par", text)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNewProviderRejectsLocalBaseURL(t *testing.T) {
	s := openaisettings.NewSettings()
	s.APIKey = "sk-test"
	s.BaseURL = "http://127.0.0.1:8080/v1"
	_, err := NewProvider(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid openai base URL")
}
