package loopdetect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, `{"a":1,"b":{"c":2,"d":[3,1]}}`,
		string(Canonicalize(json.RawMessage(`{ "b": {"d": [3, 1], "c": 2}, "a": 1 }`))))
	assert.Equal(t, `{}`, string(Canonicalize(nil)))
	assert.Equal(t, `not json`, string(Canonicalize(json.RawMessage("  not json \n"))))
	assert.Equal(t, `{"n":12345678901234567890}`,
		string(Canonicalize(json.RawMessage(`{"n": 12345678901234567890}`))))
}

func TestKeyOrderDoesNotMatter(t *testing.T) {
	d := New(3)
	d.RecordCall("get_pods", json.RawMessage(`{"ns":"a","label":"x"}`), 1)
	assert.Equal(t, 1, d.CountRepeatedCalls("get_pods", json.RawMessage(`{"label":"x", "ns":"a"}`)))
	assert.Equal(t, 0, d.CountRepeatedCalls("get_logs", json.RawMessage(`{"label":"x", "ns":"a"}`)))
	assert.Equal(t, 0, d.CountRepeatedCalls("get_pods", json.RawMessage(`{"ns":"b","label":"x"}`)))
}

func TestIsLoopAtThreshold(t *testing.T) {
	d := New(2)
	args := json.RawMessage(`{"ns":"default"}`)

	assert.False(t, d.IsLoop("get_pods", args))
	d.RecordCall("get_pods", args, 1)
	assert.False(t, d.IsLoop("get_pods", args))
	d.RecordCall("get_pods", args, 2)
	assert.True(t, d.IsLoop("get_pods", args))

	hint := d.Hint("get_pods", args)
	assert.Contains(t, hint, `"get_pods"`)
	assert.Contains(t, hint, "2 times")
	assert.Contains(t, hint, "iteration 1")
}

func TestReset(t *testing.T) {
	d := New(1)
	d.RecordCall("x", nil, 1)
	assert.True(t, d.IsLoop("x", nil))
	d.Reset()
	assert.False(t, d.IsLoop("x", nil))
	assert.Equal(t, 0, d.CountRepeatedCalls("x", nil))
}

func TestDefaultMax(t *testing.T) {
	assert.Equal(t, DefaultMaxRepeatedCalls, New(0).Max())
}

func TestRepeatingPattern(t *testing.T) {
	d := New(10)
	for i := 0; i < 3; i++ {
		d.RecordCall("a", nil, i)
		d.RecordCall("b", nil, i)
	}
	assert.True(t, d.RepeatingPattern(6))
	assert.True(t, d.RepeatingPattern(4))
	assert.False(t, d.RepeatingPattern(7))

	d.RecordCall("c", nil, 4)
	assert.False(t, d.RepeatingPattern(6))
}
