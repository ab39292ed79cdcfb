package streamjson

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed writes s in chunks of size n and returns the live output.
func feed(c *Classifier, s string, n int) string {
	var out strings.Builder
	for len(s) > 0 {
		k := n
		if k > len(s) {
			k = len(s)
		}
		out.WriteString(c.Write(s[:k]))
		s = s[k:]
	}
	out.WriteString(c.Flush())
	return out.String()
}

func TestProseIsEmittedLive(t *testing.T) {
	c := New()
	assert.Equal(t, "The pod ", c.Write("The pod "))
	assert.Equal(t, StateProse, c.State())
	assert.Equal(t, "is crashlooping.", c.Write("is crashlooping."))

	res := c.Finish()
	assert.False(t, res.IsJSON)
	assert.Equal(t, "The pod is crashlooping.", res.Response)
}

func TestJSONWithMarkerIsWithheld(t *testing.T) {
	payload := `{"type":"diagnosis","summary":"OOM \"killed\" {x}","services":["api"]}`
	for _, size := range []int{1, 3, 7, len(payload)} {
		c := New()
		live := feed(c, payload, size)
		assert.Empty(t, live, "chunk size %d", size)

		res := c.Finish()
		require.True(t, res.IsJSON, "chunk size %d", size)
		assert.Equal(t, payload, res.Response)
		assert.True(t, json.Valid([]byte(res.Response)))
		assert.Empty(t, res.Preamble)
	}
}

func TestFencedJSONWithPreamble(t *testing.T) {
	text := "Here is what I found:\n```json\n{\"type\": \"report\", \"ok\": true}\n```\n"
	for _, size := range []int{1, 2, 5, len(text)} {
		c := New()
		live := feed(c, text, size)
		assert.Equal(t, "Here is what I found:\n", live, "chunk size %d", size)

		res := c.Finish()
		require.True(t, res.IsJSON, "chunk size %d", size)
		assert.Equal(t, `{"type": "report", "ok": true}`, res.Response)
		assert.Equal(t, "Here is what I found:", res.Preamble)
	}
}

func TestAmbiguousPrefixIsWithheld(t *testing.T) {
	c := New()
	assert.Equal(t, "", c.Write(`{"sum`))
	assert.Equal(t, StateAmbiguous, c.State())
	assert.Equal(t, "", c.Write("mary\": "))
	assert.Equal(t, StateAmbiguous, c.State())
}

func TestObjectWithoutMarkerIsReleasedAsProse(t *testing.T) {
	c := New()
	live := feed(c, `Use {"name": "x"} as the selector.`, 4)
	assert.Equal(t, `Use {"name": "x"} as the selector.`, live)

	res := c.Finish()
	assert.False(t, res.IsJSON)
	assert.Equal(t, `Use {"name": "x"} as the selector.`, res.Response)
}

func TestCodeBlockIsProse(t *testing.T) {
	text := "Run this:\n```bash\nkubectl get pods\n```\ndone"
	c := New()
	live := feed(c, text, 3)
	assert.Equal(t, text, live)
	assert.False(t, c.Finish().IsJSON)
}

func TestWithheldTextIsBounded(t *testing.T) {
	c := New(WithMaxWithheld(10))
	out := c.Write(`{"aaaaaaaaaaaaaaaa`)
	assert.Equal(t, `{"aaaaaaaaaaaaaaaa`, out)
	assert.Equal(t, StateProse, c.State())
}

func TestIncompleteJSONIsDemotedOnFlush(t *testing.T) {
	c := New()
	assert.Equal(t, "", c.Write(`{"type": "report", "summary": "cut`))
	assert.Equal(t, StateJSONAccumulating, c.State())

	rest := c.Flush()
	assert.Equal(t, `{"type": "report", "summary": "cut`, rest)

	res := c.Finish()
	assert.False(t, res.IsJSON)
	assert.Equal(t, `{"type": "report", "summary": "cut`, res.Response)
}

func TestCustomMarkerKey(t *testing.T) {
	c := New(WithMarkerKey("kind"))
	assert.Equal(t, "", feed(c, `{"kind":"x"}`, 2))
	assert.True(t, c.Finish().IsJSON)

	c = New(WithMarkerKey("kind"))
	assert.Equal(t, `{"type":"x"}`, feed(c, `{"type":"x"}`, 2))
}

func TestSplitFenceAcrossChunks(t *testing.T) {
	c := New()
	assert.Equal(t, "ok ", c.Write("ok ``"))
	assert.Equal(t, "", c.Write("`json\n{\"type\":1}"))
	assert.Equal(t, StateJSONAccumulating, c.State())
}

func TestLateDetect(t *testing.T) {
	res, ok := LateDetect("Summary below\n```\n{\"result\": {\"type\": \"x\"}, \"n\": 1}\n```")
	require.True(t, ok)
	assert.Equal(t, `{"result": {"type": "x"}, "n": 1}`, res.Response)
	assert.Equal(t, "Summary below", res.Preamble)

	_, ok = LateDetect(`no json here, just a "type": mention`)
	assert.False(t, ok)

	_, ok = LateDetect(`{"type": "x", broken}`)
	assert.False(t, ok)
}

func TestExtractBalancedJSON(t *testing.T) {
	s := `xx{"a": "}", "b": {"c": "\"{"}} tail`
	obj, ok := ExtractBalancedJSON(s, 2)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}", "b": {"c": "\"{"}}`, obj)

	_, ok = ExtractBalancedJSON(s, 0)
	assert.False(t, ok)
	_, ok = ExtractBalancedJSON(`{"open": {`, 0)
	assert.False(t, ok)
}

func TestBalancedBufferStopsAtCompletion(t *testing.T) {
	b := NewBalancedBuffer()
	n := b.Write(`  {"a":1}trailing`)
	assert.True(t, b.Complete())
	assert.Equal(t, 9, n)
	assert.Equal(t, `{"a":1}`, b.String())
	assert.Equal(t, 0, b.Depth())
}
