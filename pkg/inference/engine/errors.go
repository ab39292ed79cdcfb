package engine

import "fmt"

// MalformedToolCallError reports a tool call whose encoded arguments could
// not be decoded. Models occasionally emit these; a fresh attempt usually
// succeeds.
type MalformedToolCallError struct {
	Provider string
	ToolName string
	Raw      string
	Cause    error
}

func (e *MalformedToolCallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: malformed arguments for tool call %q: %v", e.Provider, e.ToolName, e.Cause)
	}
	return fmt.Sprintf("%s: malformed arguments for tool call %q", e.Provider, e.ToolName)
}

func (e *MalformedToolCallError) Unwrap() error {
	return e.Cause
}
