package conversation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []Message {
	return []Message{
		NewTextMessage(RoleUser, "why is checkout failing?"),
		NewToolCallMessage("let me look", []ToolCall{
			{ID: "call-1", Name: "get_pods", Arguments: json.RawMessage(`{"namespace":"pr-42"}`)},
		}),
		NewToolResultsMessage([]ToolResult{
			{ToolCallID: "call-1", Name: "get_pods", Content: "checkout-7f9 CrashLoopBackOff"},
		}),
	}
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	for _, m := range sampleHistory() {
		require.NoError(t, s.AppendMessage(ctx, "run-1", m))
	}

	got, err := s.GetMessages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	got[0].Parts[0].Text = "mutated"
	got[2].Parts[0].ToolResult.Content = "mutated"

	again, err := s.GetMessages(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "why is checkout failing?", again[0].Text())
	assert.Equal(t, "checkout-7f9 CrashLoopBackOff", again[2].ToolResults()[0].Content)
}

func TestInMemoryStoreUnknownRun(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.GetMessages(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStoreRoundTripPreservesOrder(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	history := sampleHistory()
	for _, m := range history {
		require.NoError(t, s.AppendMessage(ctx, "run-1", m))
	}
	require.NoError(t, s.AppendMessage(ctx, "run-2", NewTextMessage(RoleUser, "other run")))

	got, err := s.GetMessages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, len(history))
	for i := range history {
		assert.Equal(t, history[i].ID, got[i].ID)
		assert.Equal(t, history[i].Role, got[i].Role)
		assert.Equal(t, history[i].String(), got[i].String())
	}

	calls := got[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"namespace":"pr-42"}`, string(calls[0].Arguments))
}

func TestMessageHelpers(t *testing.T) {
	m := NewToolCallMessage("thinking", []ToolCall{{Name: "a"}, {Name: "b"}}, WithMetadata("k", "v"))
	assert.Equal(t, RoleAssistant, m.Role)
	assert.Equal(t, "thinking", m.Text())
	assert.Len(t, m.ToolCalls(), 2)
	assert.Equal(t, "v", m.Metadata["k"])

	empty := NewToolCallMessage("", []ToolCall{{Name: "a"}})
	assert.Len(t, empty.Parts, 1)

	assert.Equal(t, len("abcd")+len("x")+len("yz"), NewMessage(RoleUser, []Part{
		NewTextPart("abcd"),
		NewToolResultPart(ToolResult{Name: "x", Content: "yz"}),
	}).CharCount())
}
