package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

type Config struct {
	// RequireConfirmation extends confirmation to CAUTIOUS tools. DANGEROUS
	// tools are always confirmed.
	RequireConfirmation bool          `json:"require_confirmation" yaml:"require_confirmation" mapstructure:"require_confirmation"`
	ExecutionTimeout    time.Duration `json:"execution_timeout" yaml:"execution_timeout" mapstructure:"execution_timeout"`
	MaxOutputChars      int           `json:"max_output_chars" yaml:"max_output_chars" mapstructure:"max_output_chars"`
}

func DefaultConfig() Config {
	return Config{
		RequireConfirmation: false,
		ExecutionTimeout:    60 * time.Second,
		MaxOutputChars:      20000,
	}
}

// Manager is the only path by which tools are executed. It validates
// arguments, gates execution on confirmation, enforces the timeout and
// truncates the output.
type Manager struct {
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	schemas map[*jsonschema.Schema]*gojsonschema.Schema
}

type Option func(*Manager)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(config Config, opts ...Option) *Manager {
	m := &Manager{
		config:  config,
		logger:  log.Logger,
		schemas: make(map[*jsonschema.Schema]*gojsonschema.Schema),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "safety").Logger()
	return m
}

func (m *Manager) Config() Config {
	return m.config
}

// SafeExecute runs tool with args and always returns a Result; failures are
// encoded in the result, never returned as errors.
func (m *Manager) SafeExecute(ctx context.Context, tool tools.Tool, args json.RawMessage, callbacks *events.Callbacks) tools.Result {
	res := m.safeExecute(ctx, tool, args, callbacks)
	if e, ok := tools.AsErr(res); ok {
		ev := m.logger.Warn()
		if !e.Recoverable {
			ev = m.logger.Error()
		}
		ev.Str("tool", tool.Name()).
			Str("code", string(e.Code)).
			Bool("recoverable", e.Recoverable).
			Msg(e.Message)
	}
	return res
}

func (m *Manager) safeExecute(ctx context.Context, tool tools.Tool, args json.RawMessage, callbacks *events.Callbacks) tools.Result {
	if err := m.ValidateArguments(tool, args); err != nil {
		return tools.NewErr(tools.ErrorCodeInvalidArguments, err.Error(), true).
			WithSuggestedAction("Fix the arguments so they match the tool's parameter schema and call it again.")
	}

	if details := m.ConfirmationDetails(tool, args); details != nil {
		if !callbacks.CanConfirm() {
			return tools.NewErr(tools.ErrorCodeNoConfirmationHandler,
				fmt.Sprintf("%s requires confirmation but no confirmation handler is configured", tool.Name()), false)
		}
		approved, err := callbacks.ConfirmTool(ctx, *details)
		if err != nil {
			m.logger.Warn().Err(err).Str("tool", tool.Name()).Msg("confirmation handler failed, treating as declined")
			approved = false
		}
		if !approved {
			return tools.NewErr(tools.ErrorCodeUserCancelled,
				fmt.Sprintf("the user declined to run %s", tool.Name()), false)
		}
	}

	res := m.executeWithTimeout(ctx, tool, args)
	if ok, isOk := res.(tools.Ok); isOk {
		ok.AgentContent = tools.TruncateOutput(ok.AgentContent, m.config.MaxOutputChars)
		return ok
	}
	return res
}

// ConfirmationDetails returns the prompt to show for this call, or nil if
// the call may run unconfirmed.
func (m *Manager) ConfirmationDetails(tool tools.Tool, args json.RawMessage) *tools.ConfirmationDetails {
	switch tool.SafetyLevel() {
	case tools.SafetyLevelDangerous:
	case tools.SafetyLevelCautious:
		if !m.config.RequireConfirmation {
			return nil
		}
	default:
		return nil
	}
	if c, ok := tool.(tools.Confirmer); ok {
		return c.ShouldConfirmExecution(args)
	}
	return tools.DefaultConfirmationDetails(tool, args)
}

// ValidateArguments checks args against the tool's JSON schema. A tool
// without a schema accepts anything.
func (m *Manager) ValidateArguments(tool tools.Tool, args json.RawMessage) error {
	schema := tool.Schema()
	if schema == nil {
		return nil
	}
	compiled, err := m.compile(schema)
	if err != nil {
		return errors.Wrapf(err, "invalid schema for tool %s", tool.Name())
	}

	doc := args
	if len(strings.TrimSpace(string(doc))) == 0 {
		doc = json.RawMessage(`{}`)
	}
	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.Wrap(err, "arguments are not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	descriptions := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return errors.Errorf("invalid arguments for %s: %s", tool.Name(), strings.Join(descriptions, "; "))
}

func (m *Manager) compile(schema *jsonschema.Schema) (*gojsonschema.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.schemas[schema]; ok {
		return s, nil
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	// the reflector stamps a draft 2020-12 $schema; validate with the
	// keywords gojsonschema knows instead of resolving that URL
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, err
	}
	m.schemas[schema] = s
	return s, nil
}

type outcome struct {
	result tools.Result
	err    error
}

func (m *Manager) executeWithTimeout(ctx context.Context, tool tools.Tool, args json.RawMessage) tools.Result {
	execCtx, cancel := ctx, context.CancelFunc(func() {})
	var timeoutC <-chan time.Time
	if m.config.ExecutionTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, m.config.ExecutionTimeout)
		timer := time.NewTimer(m.config.ExecutionTimeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := tool.Execute(execCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() != nil {
				return m.cancelled(tool)
			}
			if execCtx.Err() == context.DeadlineExceeded {
				return m.timedOut(tool)
			}
			return executionError(o.err)
		}
		switch r := o.result.(type) {
		case nil:
			return tools.NewOk("")
		case *tools.Ok:
			if r == nil {
				return tools.NewOk("")
			}
			return *r
		case *tools.Err:
			if r == nil {
				return tools.NewErr(tools.ErrorCodeExecutionError, tool.Name()+" returned an empty error result", true)
			}
			return *r
		default:
			return r
		}
	case <-timeoutC:
		return m.timedOut(tool)
	case <-ctx.Done():
		return m.cancelled(tool)
	}
}

func (m *Manager) timedOut(tool tools.Tool) tools.Result {
	return tools.NewErr(tools.ErrorCodeTimeout,
		fmt.Sprintf("%s did not finish within %s", tool.Name(), m.config.ExecutionTimeout), true).
		WithSuggestedAction("Narrow the scope of the request (fewer resources, a shorter time window) and try again.")
}

func (m *Manager) cancelled(tool tools.Tool) tools.Result {
	return tools.NewErr(tools.ErrorCodeCancelled, fmt.Sprintf("%s was cancelled", tool.Name()), false)
}

func executionError(err error) tools.Result {
	var execErr *tools.ExecError
	if errors.As(err, &execErr) {
		code := execErr.Code
		if code == "" {
			code = tools.ErrorCodeExecutionError
		}
		msg := execErr.Message
		if execErr.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, execErr.Cause)
		}
		return tools.NewErr(code, msg, !execErr.Fatal)
	}
	return tools.NewErr(tools.ErrorCodeExecutionError, err.Error(), true)
}
