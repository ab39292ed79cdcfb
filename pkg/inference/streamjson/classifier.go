package streamjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	DefaultMarkerKey = "type"
	// DefaultMaxWithheld bounds how much ambiguous text is held back before
	// it is released as prose.
	DefaultMaxWithheld = 16 * 1024
)

type State int

const (
	StateUndetermined State = iota
	// StateAmbiguous holds back text starting with '{' or a code fence until
	// the marker shows up or the candidate is ruled out.
	StateAmbiguous
	StateJSONAccumulating
	StateProse
)

func (s State) String() string {
	switch s {
	case StateUndetermined:
		return "undetermined"
	case StateAmbiguous:
		return "ambiguous"
	case StateJSONAccumulating:
		return "json-accumulating"
	case StateProse:
		return "prose"
	default:
		return "unknown"
	}
}

// Result is the classification of one final model turn. For JSON results
// Response is the raw object text and always parses.
type Result struct {
	IsJSON   bool   `json:"is_json" yaml:"is_json"`
	Response string `json:"response" yaml:"response"`
	Preamble string `json:"preamble,omitempty" yaml:"preamble,omitempty"`
}

// Classifier decides online whether a streamed response is a structured JSON
// payload or prose. Write returns the text that is safe to show live.
//
// Invariant: outside JSON mode the raw input is the emitted prose followed
// by the withheld text.
type Classifier struct {
	marker      *regexp.Regexp
	maxWithheld int

	state    State
	raw      strings.Builder
	prose    strings.Builder
	pending  string
	buf      *BalancedBuffer
	preamble string
}

type Option func(*Classifier)

// WithMarkerKey sets the object key whose presence marks a structured payload.
func WithMarkerKey(key string) Option {
	return func(c *Classifier) {
		c.marker = markerRegexp(key)
	}
}

func WithMaxWithheld(n int) Option {
	return func(c *Classifier) {
		c.maxWithheld = n
	}
}

func markerRegexp(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + regexp.QuoteMeta(key) + `"\s*:`)
}

func New(opts ...Option) *Classifier {
	c := &Classifier{
		marker:      markerRegexp(DefaultMarkerKey),
		maxWithheld: DefaultMaxWithheld,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) State() State {
	return c.state
}

// Write consumes one chunk and returns the prose that can be emitted now.
func (c *Classifier) Write(chunk string) string {
	if chunk == "" {
		return ""
	}
	c.raw.WriteString(chunk)
	if c.state == StateJSONAccumulating {
		if !c.buf.Complete() {
			c.buf.Write(chunk)
		}
		return ""
	}
	c.pending += chunk
	return c.scan()
}

func (c *Classifier) scan() string {
	var out strings.Builder
	for c.pending != "" && c.state != StateJSONAccumulating {
		if c.state != StateAmbiguous {
			i := candidateStart(c.pending)
			if i < 0 {
				keep := trailingBackticks(c.pending)
				c.emitProse(&out, len(c.pending)-keep)
				break
			}
			c.emitProse(&out, i)
			c.state = StateAmbiguous
		}
		if !c.resolve(&out) {
			break
		}
	}
	return out.String()
}

// resolve tries to settle the withheld candidate. It returns false when more
// input is needed or JSON mode was entered.
func (c *Classifier) resolve(out *strings.Builder) bool {
	p := c.pending
	bodyStart := 0
	if strings.HasPrefix(p, "```") {
		nl := strings.IndexByte(p, '\n')
		if nl < 0 {
			return c.releaseIfTooLong(out)
		}
		j := nl + 1
		for j < len(p) && isSpace(p[j]) {
			j++
		}
		if j == len(p) {
			return c.releaseIfTooLong(out)
		}
		if p[j] != '{' {
			// an ordinary code block
			c.emitProse(out, nl+1)
			return true
		}
		bodyStart = j
	}

	body := p[bodyStart:]
	b := NewBalancedBuffer()
	n := b.Write(body)
	object := body
	if b.Complete() {
		object = body[:n]
	}

	if c.marker.MatchString(object) {
		c.preamble = strings.TrimSpace(c.prose.String())
		c.buf = NewBalancedBuffer()
		c.buf.Write(body)
		c.pending = ""
		c.state = StateJSONAccumulating
		return false
	}
	if b.Complete() {
		c.emitProse(out, bodyStart+n)
		return true
	}
	return c.releaseIfTooLong(out)
}

func (c *Classifier) releaseIfTooLong(out *strings.Builder) bool {
	if c.maxWithheld > 0 && len(c.pending) > c.maxWithheld {
		c.emitProse(out, len(c.pending))
		return true
	}
	return false
}

// emitProse releases the first n withheld bytes as prose.
func (c *Classifier) emitProse(out *strings.Builder, n int) {
	if n <= 0 {
		return
	}
	s := c.pending[:n]
	c.pending = c.pending[n:]
	out.WriteString(s)
	c.prose.WriteString(s)
	c.state = StateProse
}

// Flush releases any withheld text as prose and returns it. A JSON payload
// that is incomplete or does not parse is demoted to prose as well.
func (c *Classifier) Flush() string {
	if c.state == StateJSONAccumulating {
		if c.buf.Complete() && json.Valid([]byte(c.buf.String())) {
			return ""
		}
		rest := c.raw.String()[c.prose.Len():]
		c.prose.WriteString(rest)
		c.buf = nil
		c.preamble = ""
		c.state = StateProse
		return rest
	}

	rest := c.pending
	c.pending = ""
	if rest != "" {
		c.prose.WriteString(rest)
		c.state = StateProse
	}
	return rest
}

// Finish classifies the complete response. Callers that display text live
// should call Flush first, since Finish discards what Flush would return.
// Prose responses get one late-detection pass.
func (c *Classifier) Finish() Result {
	c.Flush()
	if c.state == StateJSONAccumulating {
		return Result{
			IsJSON:   true,
			Response: c.buf.String(),
			Preamble: c.preamble,
		}
	}
	full := c.raw.String()
	if r, ok := lateDetect(full, c.marker); ok {
		return r
	}
	return Result{Response: full}
}

// candidateStart returns the index of the first '{' or code fence.
func candidateStart(s string) int {
	brace := strings.IndexByte(s, '{')
	fence := strings.Index(s, "```")
	switch {
	case brace < 0:
		return fence
	case fence < 0:
		return brace
	case fence < brace:
		return fence
	default:
		return brace
	}
}

// trailingBackticks counts up to two trailing backticks that may be the
// start of a fence split across chunks.
func trailingBackticks(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && n < 2 && s[i] == '`'; i-- {
		n++
	}
	return n
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
