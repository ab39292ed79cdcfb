package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SafetyLevel gates whether a tool needs user confirmation before running.
type SafetyLevel string

const (
	SafetyLevelSafe      SafetyLevel = "safe"
	SafetyLevelCautious  SafetyLevel = "cautious"
	SafetyLevelDangerous SafetyLevel = "dangerous"
)

func ParseSafetyLevel(s string) (SafetyLevel, error) {
	switch SafetyLevel(s) {
	case SafetyLevelSafe, SafetyLevelCautious, SafetyLevelDangerous:
		return SafetyLevel(s), nil
	default:
		return "", fmt.Errorf("unknown safety level: %s", s)
	}
}

// Tool is a named capability the model can invoke. Execute receives the raw
// arguments exactly as the model produced them. A returned error is turned
// into an EXECUTION_ERROR result by the safety layer; tools that want to
// control the error code return an *ExecError or an Err result directly.
type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	SafetyLevel() SafetyLevel
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// ConfirmationDetails is what the host shows the user before a gated tool runs.
type ConfirmationDetails struct {
	ToolName    string          `json:"tool_name" yaml:"tool_name"`
	Title       string          `json:"title" yaml:"title"`
	Message     string          `json:"message,omitempty" yaml:"message,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	SafetyLevel SafetyLevel     `json:"safety_level" yaml:"safety_level"`
}

// Confirmer lets a tool describe, per call, what it is about to do. Returning
// nil opts the call out of confirmation.
type Confirmer interface {
	ShouldConfirmExecution(args json.RawMessage) *ConfirmationDetails
}

// DefaultConfirmationDetails describes a call for tools that do not implement Confirmer.
func DefaultConfirmationDetails(t Tool, args json.RawMessage) *ConfirmationDetails {
	return &ConfirmationDetails{
		ToolName:    t.Name(),
		Title:       fmt.Sprintf("Run %s?", t.Name()),
		Message:     t.Description(),
		Arguments:   args,
		SafetyLevel: t.SafetyLevel(),
	}
}
