package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	resultType  = reflect.TypeOf((*Result)(nil)).Elem()
)

// FuncTool adapts a plain Go function into a Tool. The input struct drives
// the JSON schema; the output is rendered as the agent content.
type FuncTool struct {
	name        string
	description string
	level       SafetyLevel
	schema      *jsonschema.Schema
	confirm     func(args json.RawMessage) *ConfirmationDetails

	fn       reflect.Value
	fnType   reflect.Type
	hasCtx   bool
	inType   reflect.Type
	hasError bool
}

var _ Tool = (*FuncTool)(nil)
var _ Confirmer = (*FuncTool)(nil)

type FuncToolOption func(*FuncTool)

func WithSafetyLevel(level SafetyLevel) FuncToolOption {
	return func(t *FuncTool) {
		t.level = level
	}
}

// WithConfirmation overrides the confirmation prompt. Returning nil skips
// confirmation for that call.
func WithConfirmation(f func(args json.RawMessage) *ConfirmationDetails) FuncToolOption {
	return func(t *FuncTool) {
		t.confirm = f
	}
}

// NewToolFromFunc wraps fn, which must have one of the shapes
//
//	func(Input) (Output, error)
//	func(context.Context, Input) (Output, error)
//	func(context.Context) (Output, error)
//
// with the error return optional. Output may be a string, a Result or any
// JSON-serializable value.
func NewToolFromFunc(name, description string, fn interface{}, opts ...FuncToolOption) (*FuncTool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name cannot be empty")
	}
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, fmt.Errorf("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, fmt.Errorf("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 && !funcType.Out(1).Implements(errorType) {
		return nil, fmt.Errorf("second return value must be an error")
	}

	t := &FuncTool{
		name:        name,
		description: description,
		level:       SafetyLevelSafe,
		fn:          reflect.ValueOf(fn),
		fnType:      funcType,
		hasError:    funcType.NumOut() == 2,
	}

	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			t.hasCtx = true
		} else {
			t.inType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, fmt.Errorf("two-arg tool function must be (context.Context, Input)")
		}
		t.hasCtx = true
		t.inType = funcType.In(1)
	default:
		return nil, fmt.Errorf("function must take (Input), (context.Context, Input) or (context.Context)")
	}

	t.schema = schemaForInput(t.inType)

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func schemaForInput(inType reflect.Type) *jsonschema.Schema {
	if inType == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inType).Elem().Interface())
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

func (t *FuncTool) Name() string               { return t.name }
func (t *FuncTool) Description() string        { return t.description }
func (t *FuncTool) Schema() *jsonschema.Schema { return t.schema }
func (t *FuncTool) SafetyLevel() SafetyLevel   { return t.level }

func (t *FuncTool) ShouldConfirmExecution(args json.RawMessage) *ConfirmationDetails {
	if t.confirm != nil {
		return t.confirm(args)
	}
	return DefaultConfirmationDetails(t, args)
}

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	in := make([]reflect.Value, 0, 2)
	if t.hasCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if t.inType != nil {
		input := reflect.New(t.inType)
		if len(args) > 0 {
			if err := json.Unmarshal(args, input.Interface()); err != nil {
				return nil, &ExecError{
					Code:    ErrorCodeInvalidArguments,
					Message: fmt.Sprintf("could not decode arguments for %s", t.name),
					Cause:   err,
				}
			}
		}
		in = append(in, input.Elem())
	}

	log.Trace().Str("tool", t.name).Int("args_len", len(args)).Msg("tools: calling function")
	out := t.fn.Call(in)

	if t.hasError {
		if errV := out[1]; !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
	}
	return renderOutput(out[0])
}

func renderOutput(v reflect.Value) (Result, error) {
	if v.Type().Implements(resultType) {
		if v.Kind() == reflect.Interface && v.IsNil() {
			return NewOk(""), nil
		}
		return v.Interface().(Result), nil
	}
	if v.Kind() == reflect.String {
		return NewOk(v.String()), nil
	}
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("could not serialize tool output: %w", err)
	}
	return NewOk(string(b)), nil
}
