package orchestrator

import (
	"context"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type callOutcome struct {
	call          conversation.ToolCall
	result        tools.Result
	toolDuration  time.Duration
	totalDuration time.Duration
}

// executeBatch runs the calls of one model turn concurrently and returns
// their outcomes in issuance order. The model latency of the turn (think)
// is credited to the first call's total duration.
func (r *run) executeBatch(ctx context.Context, calls []conversation.ToolCall, iteration int, think time.Duration) []callOutcome {
	outcomes := make([]callOutcome, len(calls))

	// per-call goroutines never return an error, so a failing call does not
	// cancel its siblings
	var g errgroup.Group
	if n := r.o.config.MaxParallelTools; n > 0 {
		g.SetLimit(n)
	}

	r.cb.Activity(events.ActivityExecuting, toolNames(calls))
	for i, call := range calls {
		i, call := i, call
		r.cb.ToolCall(call)

		if r.detector.IsLoop(call.Name, call.Arguments) {
			hint := r.detector.Hint(call.Name, call.Arguments)
			r.logger.Warn().Str("tool", call.Name).Int("iteration", iteration).Msg("repeated tool call detected")
			outcomes[i] = callOutcome{
				call:   call,
				result: tools.NewErr(tools.ErrorCodeLoopDetected, hint, false),
			}
			continue
		}
		r.detector.RecordCall(call.Name, call.Arguments, iteration)

		g.Go(func() error {
			start := time.Now()
			res := r.executeCall(ctx, call)
			d := time.Since(start)
			outcomes[i] = callOutcome{call: call, result: res, toolDuration: d}
			return nil
		})
	}
	_ = g.Wait()

	if r.detector.RepeatingPattern(6) {
		r.logger.Warn().Int("iteration", iteration).Msg("tool calls are cycling through the same pattern")
	}

	for i := range outcomes {
		outcomes[i].totalDuration = outcomes[i].toolDuration
		if i == 0 {
			outcomes[i].totalDuration += think
		}
		code := "ok"
		if e, ok := tools.AsErr(outcomes[i].result); ok {
			code = string(e.Code)
		}
		r.o.metrics.recordTool(outcomes[i].call.Name, code, outcomes[i].toolDuration)
		r.logger.Debug().
			Str("tool", outcomes[i].call.Name).
			Str("code", code).
			Dur("tool_duration", outcomes[i].toolDuration).
			Dur("total_duration", outcomes[i].totalDuration).
			Msg("tool call finished")
	}
	return outcomes
}

func (r *run) executeCall(ctx context.Context, call conversation.ToolCall) tools.Result {
	tool, err := r.o.registry.GetTool(call.Name)
	if err != nil {
		return tools.NewErr(tools.ErrorCodeToolNotFound, err.Error(), true).
			WithSuggestedAction("Call one of the tools listed in the request.")
	}
	ctx = tools.WithCurrentToolCall(ctx, call)
	ctx = events.WithRunSinks(ctx, r.req.RunID, r.o.sinks...)
	return r.o.safety.SafeExecute(ctx, tool, call.Arguments, r.cb)
}

// withCallIDs returns calls with a generated id on every call that has none,
// so results can always be paired with their call.
func withCallIDs(calls []conversation.ToolCall) []conversation.ToolCall {
	ret := make([]conversation.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + uuid.NewString()
		}
		ret[i] = c
	}
	return ret
}

func toolNames(calls []conversation.ToolCall) string {
	names := ""
	for i, c := range calls {
		if i > 0 {
			names += ", "
		}
		names += c.Name
	}
	return names
}
