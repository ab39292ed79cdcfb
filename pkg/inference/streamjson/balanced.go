package streamjson

import "strings"

// BalancedBuffer accumulates a single JSON object from streamed text. Text
// before the first '{' is skipped. Braces inside string literals are ignored,
// honouring backslash escapes, and the buffer is complete once the depth
// returns to zero.
type BalancedBuffer struct {
	sb       strings.Builder
	depth    int
	started  bool
	inString bool
	escaped  bool
	complete bool
}

func NewBalancedBuffer() *BalancedBuffer {
	return &BalancedBuffer{}
}

// Write feeds s into the buffer and returns the number of bytes consumed.
// Once the object is complete the remainder of s is left unconsumed.
func (b *BalancedBuffer) Write(s string) int {
	for i := 0; i < len(s); i++ {
		if b.complete {
			return i
		}
		ch := s[i]
		if !b.started {
			if ch != '{' {
				continue
			}
			b.started = true
		}
		b.sb.WriteByte(ch)

		switch {
		case b.inString:
			switch {
			case b.escaped:
				b.escaped = false
			case ch == '\\':
				b.escaped = true
			case ch == '"':
				b.inString = false
			}
		case ch == '"':
			b.inString = true
		case ch == '{':
			b.depth++
		case ch == '}':
			b.depth--
			if b.depth == 0 {
				b.complete = true
				return i + 1
			}
		}
	}
	return len(s)
}

func (b *BalancedBuffer) Complete() bool {
	return b.complete
}

func (b *BalancedBuffer) Depth() int {
	return b.depth
}

func (b *BalancedBuffer) String() string {
	return b.sb.String()
}

// ExtractBalancedJSON returns the balanced object starting at s[start],
// which must be '{'. It does not check that the object parses.
func ExtractBalancedJSON(s string, start int) (string, bool) {
	if start < 0 || start >= len(s) || s[start] != '{' {
		return "", false
	}
	b := NewBalancedBuffer()
	b.Write(s[start:])
	if !b.Complete() {
		return "", false
	}
	return b.String(), true
}
