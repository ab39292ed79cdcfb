package loopdetect

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const DefaultMaxRepeatedCalls = 3

type entry struct {
	tool      string
	key       string
	iteration int
}

// Detector counts identical tool calls within one run. Calls are identical
// when the tool name and the canonical form of the arguments match.
type Detector struct {
	max int

	mu      sync.Mutex
	history []entry
	counts  map[string]int
	first   map[string]int
}

func New(maxRepeatedCalls int) *Detector {
	if maxRepeatedCalls <= 0 {
		maxRepeatedCalls = DefaultMaxRepeatedCalls
	}
	return &Detector{
		max:    maxRepeatedCalls,
		counts: map[string]int{},
		first:  map[string]int{},
	}
}

func (d *Detector) Max() int {
	return d.max
}

// RecordCall appends a call made during iteration.
func (d *Detector) RecordCall(tool string, args json.RawMessage, iteration int) {
	key := Signature(tool, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, entry{tool: tool, key: key, iteration: iteration})
	if _, ok := d.first[key]; !ok {
		d.first[key] = iteration
	}
	d.counts[key]++
}

// CountRepeatedCalls returns how many recorded calls match tool and args.
func (d *Detector) CountRepeatedCalls(tool string, args json.RawMessage) int {
	key := Signature(tool, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[key]
}

// IsLoop reports whether issuing the call again would reach the limit.
// Check before recording.
func (d *Detector) IsLoop(tool string, args json.RawMessage) bool {
	return d.CountRepeatedCalls(tool, args) >= d.max
}

// Hint explains the detected loop to the model.
func (d *Detector) Hint(tool string, args json.RawMessage) string {
	key := Signature(tool, args)
	d.mu.Lock()
	count := d.counts[key]
	first := d.first[key]
	d.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool %q was already called %d times with identical arguments", tool, count)
	if count > 0 {
		fmt.Fprintf(&sb, " (first in iteration %d)", first)
	}
	sb.WriteString(". Repeating it will not produce new information. ")
	if len(bytes.TrimSpace(args)) <= 2 {
		sb.WriteString("Try a more specific query with arguments that narrow the scope, ")
	} else {
		sb.WriteString("Change the arguments, try a different tool, ")
	}
	sb.WriteString("or report what has been found so far.")
	return sb.String()
}

// RepeatingPattern reports whether the last window calls repeat a cycle of
// one to three signatures, e.g. A B A B A B.
func (d *Detector) RepeatingPattern(window int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if window <= 1 || len(d.history) < window {
		return false
	}
	sigs := d.history[len(d.history)-window:]
	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 || window == patternLen {
			continue
		}
		match := true
		for i := patternLen; i < window && match; i++ {
			if sigs[i].key != sigs[i%patternLen].key {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
	d.counts = map[string]int{}
	d.first = map[string]int{}
}

// Canonicalize re-encodes JSON arguments with sorted keys and no
// insignificant whitespace. Arguments that are not JSON are returned trimmed.
func Canonicalize(args json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}

// Signature is the identity of a tool call: the tool name plus a hash of the
// canonical arguments.
func Signature(tool string, args json.RawMessage) string {
	h := sha256.Sum256(Canonicalize(args))
	return fmt.Sprintf("%s:%x", tool, h[:12])
}
