package tools

import (
	"fmt"
	"strings"
)

type ErrorCode string

const (
	ErrorCodeInvalidArguments      ErrorCode = "INVALID_ARGUMENTS"
	ErrorCodeNoConfirmationHandler ErrorCode = "NO_CONFIRMATION_HANDLER"
	ErrorCodeUserCancelled         ErrorCode = "USER_CANCELLED"
	ErrorCodeTimeout               ErrorCode = "TIMEOUT"
	ErrorCodeExecutionError        ErrorCode = "EXECUTION_ERROR"
	ErrorCodeLoopDetected          ErrorCode = "LOOP_DETECTED"
	ErrorCodeToolNotFound          ErrorCode = "TOOL_NOT_FOUND"
	ErrorCodeCancelled             ErrorCode = "CANCELLED"
)

// Result is the outcome of one tool call: either Ok or Err.
type Result interface {
	Success() bool
	isResult()
}

// Ok carries the text fed back to the model and an optional richer
// rendering for the host UI.
type Ok struct {
	AgentContent   string `json:"agent_content" yaml:"agent_content"`
	DisplayContent string `json:"display_content,omitempty" yaml:"display_content,omitempty"`
}

func (Ok) Success() bool { return true }
func (Ok) isResult()     {}

// Err is a failed call. Recoverable failures are reported to the model so it
// can adjust; non-recoverable ones mean the user or the runtime said stop.
type Err struct {
	Code            ErrorCode `json:"code" yaml:"code"`
	Message         string    `json:"message" yaml:"message"`
	Recoverable     bool      `json:"recoverable" yaml:"recoverable"`
	SuggestedAction string    `json:"suggested_action,omitempty" yaml:"suggested_action,omitempty"`
}

func (Err) Success() bool { return false }
func (Err) isResult()     {}

func (e Err) String() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewOk(agentContent string) Ok {
	return Ok{AgentContent: agentContent}
}

func NewErr(code ErrorCode, message string, recoverable bool) Err {
	return Err{Code: code, Message: message, Recoverable: recoverable}
}

func (e Err) WithSuggestedAction(action string) Err {
	e.SuggestedAction = action
	return e
}

// AsErr returns the failure branch of r, if any.
func AsErr(r Result) (Err, bool) {
	switch v := r.(type) {
	case Err:
		return v, true
	case *Err:
		if v != nil {
			return *v, true
		}
	}
	return Err{}, false
}

// AgentText renders a result the way it is fed back to the model.
func AgentText(r Result) string {
	switch v := r.(type) {
	case Ok:
		return v.AgentContent
	case *Ok:
		if v != nil {
			return v.AgentContent
		}
	}
	e, ok := AsErr(r)
	if !ok {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Error [%s]: %s", e.Code, e.Message)
	if e.SuggestedAction != "" {
		fmt.Fprintf(&sb, "\nSuggested action: %s", e.SuggestedAction)
	}
	return sb.String()
}

// ExecError lets a tool control the code of a failure it returns as an
// error. Failures are reported back to the model unless Fatal is set, in
// which case the run ends after the batch.
type ExecError struct {
	Code    ErrorCode
	Message string
	Fatal   bool
	Cause   error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}
