package safety

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type podArgs struct {
	Namespace string `json:"namespace" jsonschema:"required"`
	Limit     int    `json:"limit,omitempty"`
}

type fakeTool struct {
	name    string
	level   tools.SafetyLevel
	schema  *jsonschema.Schema
	calls   atomic.Int32
	execute func(ctx context.Context, args json.RawMessage) (tools.Result, error)
}

func newFakeTool(level tools.SafetyLevel, execute func(ctx context.Context, args json.RawMessage) (tools.Result, error)) *fakeTool {
	r := jsonschema.Reflector{DoNotReference: true}
	return &fakeTool{
		name:    "get_pods",
		level:   level,
		schema:  r.Reflect(&podArgs{}),
		execute: execute,
	}
}

func (f *fakeTool) Name() string                   { return f.name }
func (f *fakeTool) Description() string            { return "lists pods" }
func (f *fakeTool) Schema() *jsonschema.Schema     { return f.schema }
func (f *fakeTool) SafetyLevel() tools.SafetyLevel { return f.level }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	f.calls.Add(1)
	return f.execute(ctx, args)
}

func okExec(content string) func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
	return func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.NewOk(content), nil
	}
}

var validArgs = json.RawMessage(`{"namespace":"pr-42"}`)

func testManager(cfg Config) *Manager {
	return NewManager(cfg, WithLogger(zerolog.Nop()))
}

func requireErr(t *testing.T, res tools.Result, code tools.ErrorCode, recoverable bool) tools.Err {
	t.Helper()
	e, ok := tools.AsErr(res)
	require.True(t, ok, "expected an error result, got %#v", res)
	assert.Equal(t, code, e.Code)
	assert.Equal(t, recoverable, e.Recoverable)
	return e
}

func approve(answer bool, err error) *events.Callbacks {
	return &events.Callbacks{
		OnToolConfirmation: func(ctx context.Context, d tools.ConfirmationDetails) (bool, error) {
			return answer, err
		},
	}
}

func TestSafeExecuteRunsSafeToolWithoutConfirmation(t *testing.T) {
	m := testManager(DefaultConfig())
	tool := newFakeTool(tools.SafetyLevelSafe, okExec("3 pods"))

	res := m.SafeExecute(context.Background(), tool, validArgs, nil)
	assert.Equal(t, tools.NewOk("3 pods"), res)
}

func TestSafeExecuteRejectsInvalidArguments(t *testing.T) {
	m := testManager(DefaultConfig())
	tool := newFakeTool(tools.SafetyLevelSafe, okExec("unused"))

	res := m.SafeExecute(context.Background(), tool, json.RawMessage(`{"limit":"ten"}`), nil)
	e := requireErr(t, res, tools.ErrorCodeInvalidArguments, true)
	assert.Contains(t, e.Message, "namespace")
	assert.NotEmpty(t, e.SuggestedAction)
	assert.Equal(t, int32(0), tool.calls.Load())

	res = m.SafeExecute(context.Background(), tool, json.RawMessage(`{not json`), nil)
	requireErr(t, res, tools.ErrorCodeInvalidArguments, true)
}

func TestSafeExecuteDangerousWithoutHandler(t *testing.T) {
	m := testManager(DefaultConfig())
	tool := newFakeTool(tools.SafetyLevelDangerous, okExec("deleted"))

	res := m.SafeExecute(context.Background(), tool, validArgs, &events.Callbacks{})
	requireErr(t, res, tools.ErrorCodeNoConfirmationHandler, false)
	assert.Equal(t, int32(0), tool.calls.Load())
}

func TestSafeExecuteDeclinedIsNotRecoverable(t *testing.T) {
	m := testManager(DefaultConfig())
	tool := newFakeTool(tools.SafetyLevelDangerous, okExec("deleted"))

	res := m.SafeExecute(context.Background(), tool, validArgs, approve(false, nil))
	requireErr(t, res, tools.ErrorCodeUserCancelled, false)

	res = m.SafeExecute(context.Background(), tool, validArgs, approve(true, errors.New("tty closed")))
	requireErr(t, res, tools.ErrorCodeUserCancelled, false)
	assert.Equal(t, int32(0), tool.calls.Load())

	res = m.SafeExecute(context.Background(), tool, validArgs, approve(true, nil))
	assert.True(t, res.Success())
	assert.Equal(t, int32(1), tool.calls.Load())
}

func TestSafeExecuteCautiousDependsOnConfig(t *testing.T) {
	tool := newFakeTool(tools.SafetyLevelCautious, okExec("restarted"))

	res := testManager(DefaultConfig()).SafeExecute(context.Background(), tool, validArgs, nil)
	assert.True(t, res.Success())

	cfg := DefaultConfig()
	cfg.RequireConfirmation = true
	res = testManager(cfg).SafeExecute(context.Background(), tool, validArgs, nil)
	requireErr(t, res, tools.ErrorCodeNoConfirmationHandler, false)
}

func TestSafeExecuteConfirmerCanOptOut(t *testing.T) {
	ft, err := tools.NewToolFromFunc("scale", "scale a deployment",
		func(in podArgs) (string, error) { return "scaled", nil },
		tools.WithSafetyLevel(tools.SafetyLevelDangerous),
		tools.WithConfirmation(func(args json.RawMessage) *tools.ConfirmationDetails {
			if strings.Contains(string(args), `"limit":0`) {
				return nil
			}
			return &tools.ConfirmationDetails{ToolName: "scale", Title: "Scale?"}
		}),
	)
	require.NoError(t, err)
	m := testManager(DefaultConfig())

	res := m.SafeExecute(context.Background(), ft, json.RawMessage(`{"namespace":"a","limit":0}`), nil)
	assert.True(t, res.Success())

	var seen tools.ConfirmationDetails
	cb := &events.Callbacks{OnToolConfirmation: func(ctx context.Context, d tools.ConfirmationDetails) (bool, error) {
		seen = d
		return true, nil
	}}
	res = m.SafeExecute(context.Background(), ft, json.RawMessage(`{"namespace":"a","limit":3}`), cb)
	assert.True(t, res.Success())
	assert.Equal(t, "Scale?", seen.Title)
}

func TestSafeExecuteTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	m := testManager(cfg)

	cooperative := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := requireErr(t, m.SafeExecute(context.Background(), cooperative, validArgs, nil), tools.ErrorCodeTimeout, true)
	assert.NotEmpty(t, e.SuggestedAction)

	release := make(chan struct{})
	defer close(release)
	stubborn := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		<-release
		return tools.NewOk("late"), nil
	})
	start := time.Now()
	requireErr(t, m.SafeExecute(context.Background(), stubborn, validArgs, nil), tools.ErrorCodeTimeout, true)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSafeExecuteCancelledContext(t *testing.T) {
	m := testManager(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	tool := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	requireErr(t, m.SafeExecute(ctx, tool, validArgs, nil), tools.ErrorCodeCancelled, false)
}

func TestSafeExecuteExecutionErrors(t *testing.T) {
	m := testManager(DefaultConfig())

	plain := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return nil, errors.New("connection refused")
	})
	e := requireErr(t, m.SafeExecute(context.Background(), plain, validArgs, nil), tools.ErrorCodeExecutionError, true)
	assert.Equal(t, "connection refused", e.Message)

	typed := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return nil, &tools.ExecError{Code: "FORBIDDEN", Message: "rbac denied", Fatal: true}
	})
	requireErr(t, m.SafeExecute(context.Background(), typed, validArgs, nil), "FORBIDDEN", false)

	coded := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return nil, &tools.ExecError{Code: "K8S_NOT_FOUND", Message: "namespace pr-1 not found"}
	})
	e = requireErr(t, m.SafeExecute(context.Background(), coded, validArgs, nil), "K8S_NOT_FOUND", true)
	assert.Equal(t, "namespace pr-1 not found", e.Message)

	panicky := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		panic("nil map")
	})
	e = requireErr(t, m.SafeExecute(context.Background(), panicky, validArgs, nil), tools.ErrorCodeExecutionError, true)
	assert.Contains(t, e.Message, "nil map")

	reported := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.NewErr(tools.ErrorCodeExecutionError, "no such namespace", true), nil
	})
	requireErr(t, m.SafeExecute(context.Background(), reported, validArgs, nil), tools.ErrorCodeExecutionError, true)
}

func TestSafeExecuteTruncatesAgentContent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOutputChars = 300
	m := testManager(cfg)
	tool := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		return tools.Ok{AgentContent: strings.Repeat("x", 5000), DisplayContent: "full"}, nil
	})

	res := m.SafeExecute(context.Background(), tool, validArgs, nil)
	ok, isOk := res.(tools.Ok)
	require.True(t, isOk)
	assert.LessOrEqual(t, len(ok.AgentContent), 300)
	assert.Equal(t, "full", ok.DisplayContent)
}

func TestSafeExecuteNilPointerResults(t *testing.T) {
	m := testManager(DefaultConfig())

	nilOk := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		var ok *tools.Ok
		return ok, nil
	})
	res := m.SafeExecute(context.Background(), nilOk, validArgs, nil)
	require.True(t, res.Success())
	assert.Equal(t, "", tools.AgentText(res))

	nilErr := newFakeTool(tools.SafetyLevelSafe, func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
		var e *tools.Err
		return e, nil
	})
	requireErr(t, m.SafeExecute(context.Background(), nilErr, validArgs, nil), tools.ErrorCodeExecutionError, true)
}
