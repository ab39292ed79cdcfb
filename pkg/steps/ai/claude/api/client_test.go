package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/lifeguard/pkg/security"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalClient(url string) *Client {
	c := NewClient("test-key", url)
	c.URLOptions = security.LocalOptions()
	return c
}

func sse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		var frame struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(e), &frame)
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, e)
	}
}

func TestMessageSerialization(t *testing.T) {
	msg := Message{
		Role: "assistant",
		Content: []Content{
			NewTextContent("Checking pods"),
			NewToolUseContent("toolu_1", "get_pods", nil),
			NewToolResultContent("toolu_1", "3 pods", true),
		},
	}
	got, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[
		{"type":"text","text":"Checking pods"},
		{"type":"tool_use","id":"toolu_1","name":"get_pods","input":{}},
		{"type":"tool_result","tool_use_id":"toolu_1","content":"3 pods","is_error":true}
	]}`, string(got))
}

func TestStreamMessage(t *testing.T) {
	var received MessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		sse(w,
			`{"type":"message_start","message":{"id":"msg_1","role":"assistant","model":"claude","content":[],"usage":{"input_tokens":12,"output_tokens":0}}}`,
			`{"type":"ping"}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer srv.Close()

	events, err := newLocalClient(srv.URL).StreamMessage(context.Background(), &MessageRequest{Model: "claude", MaxTokens: 100})
	require.NoError(t, err)
	assert.True(t, received.Stream)

	var types []StreamingEventType
	text := ""
	for e := range events {
		require.NoError(t, e.Err)
		types = append(types, e.Type)
		if e.Type == ContentBlockDeltaType {
			text += e.Delta.Text
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Equal(t, MessageStartType, types[0])
	assert.Equal(t, MessageStopType, types[len(types)-1])
}

func TestStreamMessageHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"Number of requests has exceeded your rate limit"}}`))
	}))
	defer srv.Close()

	_, err := newLocalClient(srv.URL).StreamMessage(context.Background(), &MessageRequest{Model: "claude", MaxTokens: 10})
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Equal(t, "12", apiErr.RetryAfterHeader())
}

func TestStreamMessageNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream connect error", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newLocalClient(srv.URL).StreamMessage(context.Background(), &MessageRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream connect error", apiErr.Message)
}

func TestClientRejectsLocalBaseURLByDefault(t *testing.T) {
	_, err := NewClient("k", "http://127.0.0.1:1").StreamMessage(context.Background(), &MessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid claude base URL")
}

func TestParseSSEEventJoinsDataLines(t *testing.T) {
	var e StreamingEvent
	require.NoError(t, parseSSEEvent([][]byte{
		[]byte("event: content_block_delta\n"),
		[]byte(`data: {"type":"content_block_delta",` + "\n"),
		[]byte(`data: "index":2,"delta":{"type":"input_json_delta","partial_json":"{\"a\""}}` + "\r\n"),
	}, &e))
	assert.Equal(t, ContentBlockDeltaType, e.Type)
	assert.Equal(t, 2, e.Index)
	assert.Equal(t, `{"a"`, e.Delta.PartialJSON)

	assert.Error(t, parseSSEEvent([][]byte{[]byte("event: ping\n")}, &e))
}
