package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type runSinksKey struct{}

type runSinks struct {
	runID string
	sinks []EventSink
}

// WithRunSinks attaches sinks to ctx so that code running inside a run, tools
// in particular, can publish events without a handle on the orchestrator.
// Sinks accumulate across calls; a non-empty runID replaces the previous one.
func WithRunSinks(ctx context.Context, runID string, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(runSinksKey{}).(*runSinks)
	next := &runSinks{runID: runID}
	if prev != nil {
		next.sinks = append(next.sinks, prev.sinks...)
		if runID == "" {
			next.runID = prev.runID
		}
	}
	next.sinks = append(next.sinks, sinks...)
	return context.WithValue(ctx, runSinksKey{}, next)
}

func SinksFromContext(ctx context.Context) []EventSink {
	if rs, ok := ctx.Value(runSinksKey{}).(*runSinks); ok {
		return rs.sinks
	}
	return nil
}

func RunIDFromContext(ctx context.Context) string {
	if rs, ok := ctx.Value(runSinksKey{}).(*runSinks); ok {
		return rs.runID
	}
	return ""
}

// PublishToContext publishes e on every sink attached to ctx. Publish
// failures are logged and otherwise ignored.
func PublishToContext(ctx context.Context, e Event) {
	publishAll(SinksFromContext(ctx), e)
}

// PublishProgress reports what a tool is doing as an executing activity of
// the run in ctx.
func PublishProgress(ctx context.Context, message string) {
	sinks := SinksFromContext(ctx)
	if len(sinks) == 0 {
		return
	}
	publishAll(sinks, NewActivityEvent(NewEventMetadata(RunIDFromContext(ctx)), Activity{
		State:   ActivityExecuting,
		Message: message,
	}))
}

func publishAll(sinks []EventSink, e Event) {
	for _, sink := range sinks {
		if err := sink.PublishEvent(e); err != nil {
			log.Warn().Err(err).
				Str("component", "events").
				Str("event_type", string(e.Type())).
				Msg("sink failed to publish event")
		}
	}
}
