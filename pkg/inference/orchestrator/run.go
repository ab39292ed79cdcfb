package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/inference/loopdetect"
	"github.com/go-go-golems/lifeguard/pkg/inference/memory"
	"github.com/go-go-golems/lifeguard/pkg/inference/resilience"
	"github.com/go-go-golems/lifeguard/pkg/inference/streamjson"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// run holds the state of one Orchestrator.Run call.
type run struct {
	o        *Orchestrator
	req      RunRequest
	cb       *events.Callbacks
	logger   zerolog.Logger
	budget   *resilience.RetryBudget
	detector *loopdetect.Detector
	defs     []engine.ToolDefinition
	start    time.Time
	metrics  RunMetrics

	// history is what the next completion sees; appended is what this run
	// added, in order, for the store and the Result.
	history  []conversation.Message
	appended []conversation.Message
}

// turn is what one completion stream produced.
type turn struct {
	text    strings.Builder
	calls   []conversation.ToolCall
	err     error
	started time.Time
	callsAt time.Time
}

type openStream struct {
	frames <-chan engine.Frame
	first  engine.Frame
	// hasFirst is false when the channel closed without any frame.
	hasFirst bool
	cancel   context.CancelFunc
}

func (r *run) loop(ctx context.Context) Result {
	cfg := r.o.config
	r.cb.Activity(events.ActivityIdle, "")

	if err := r.loadHistory(ctx); err != nil {
		return r.failure(err, "The conversation history could not be loaded.")
	}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return r.cancelled("")
		}
		r.metrics.Iterations = iteration
		r.logger.Debug().Int("iteration", iteration).Int("messages", len(r.history)).Msg("orchestrator: iteration")

		r.prepareHistory(ctx)

		if res := r.iterate(ctx, iteration); res != nil {
			return *res
		}
	}

	r.logger.Warn().Int("max_iterations", cfg.MaxIterations).Msg("orchestrator: maximum iterations reached")
	return r.failure(
		errors.Wrapf(ErrMaxIterations, "stopped after %d iterations without a final answer", cfg.MaxIterations),
		fmt.Sprintf("The investigation did not finish within %d steps. Try a narrower question.", cfg.MaxIterations),
	)
}

// iterate streams one completion and handles what it produced. A nil
// Result means the run continues.
func (r *run) iterate(ctx context.Context, iteration int) *Result {
	cls := streamjson.New(streamjson.WithMarkerKey(r.o.config.MarkerKey))
	r.cb.Activity(events.ActivityStreaming, "")

	t := &turn{started: time.Now()}
	stream, err := r.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ptr(r.cancelled(""))
		}
		var classified *resilience.ClassifiedError
		if !errors.As(err, &classified) {
			classified = r.o.classifier.ClassifyError(r.o.provider.Name(), err)
		}
		return ptr(r.providerFailure(classified))
	}
	r.consume(ctx, stream, cls, t)

	switch {
	case ctx.Err() != nil:
		r.cb.TextChunk(cls.Flush())
		return ptr(r.cancelled(t.text.String()))
	case t.err != nil:
		return ptr(r.interrupted(ctx, t, cls))
	case len(t.calls) == 0:
		return ptr(r.complete(ctx, t, cls))
	default:
		r.cb.TextChunk(cls.Flush())
		return r.handleBatch(ctx, t, iteration)
	}
}

// open starts a completion and waits for its first frame under the retry
// policy and the provider's circuit breaker. An error frame arriving first
// counts as a failed open and is retried like a rejected request.
func (r *run) open(ctx context.Context) (*openStream, error) {
	name := r.o.provider.Name()
	breaker := r.o.breakers.Get(name)
	policy := &resilience.Policy{
		Provider:   name,
		Classifier: r.o.classifier,
		Budget:     r.budget,
		Metrics:    r.o.retryStats,
		Logger:     &r.logger,
		OnRetry: func(err *resilience.ClassifiedError, attempt int, delay time.Duration) {
			r.metrics.Retries++
			msg := fmt.Sprintf("%s error from %s, retry %d", err.Category, name, attempt)
			if delay > 0 {
				msg += fmt.Sprintf(" in %s", delay.Round(time.Millisecond))
			}
			r.cb.Activity(events.ActivityRetrying, msg)
		},
	}
	opts := r.completionOptions()

	return resilience.Do(ctx, policy, func(ctx context.Context) (*openStream, error) {
		var s *openStream
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			sctx, cancel := context.WithCancel(ctx)
			frames, err := r.o.provider.StreamCompletion(sctx, r.history, opts)
			if err != nil {
				cancel()
				return err
			}
			select {
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			case f, ok := <-frames:
				if ok && f.Kind == engine.FrameKindError {
					cancel()
					if f.Err == nil {
						return errors.New("provider reported an unspecified error")
					}
					return f.Err
				}
				s = &openStream{frames: frames, first: f, hasFirst: ok, cancel: cancel}
				return nil
			}
		})
		return s, err
	})
}

func (r *run) completionOptions() engine.CompletionOptions {
	cfg := r.o.config
	opts := engine.CompletionOptions{
		SystemPrompt: r.req.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	}
	if len(r.defs) > 0 {
		opts.Tools = r.defs
		opts.ToolChoice = cfg.ToolChoice
	}
	return opts
}

// consume reads frames until the stream ends, fails or ctx is done.
func (r *run) consume(ctx context.Context, s *openStream, cls *streamjson.Classifier, t *turn) {
	defer s.cancel()

	handle := func(f engine.Frame) bool {
		switch f.Kind {
		case engine.FrameKindText:
			t.text.WriteString(f.Text)
			r.cb.TextChunk(cls.Write(f.Text))
		case engine.FrameKindThinking:
			r.cb.Thinking(f.Text)
		case engine.FrameKindToolCalls:
			t.calls = append(t.calls, f.ToolCalls...)
			t.callsAt = time.Now()
		case engine.FrameKindUsage:
			if f.Usage != nil {
				r.metrics.InputTokens += f.Usage.InputTokens
				r.metrics.OutputTokens += f.Usage.OutputTokens
			}
		case engine.FrameKindError:
			t.err = f.Err
			if t.err == nil {
				t.err = errors.New("provider reported an unspecified error")
			}
			return false
		}
		return true
	}

	if s.hasFirst && !handle(s.first) {
		return
	}
	if !s.hasFirst {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-s.frames:
			if !ok {
				return
			}
			if !handle(f) {
				return
			}
		}
	}
}

func (r *run) complete(ctx context.Context, t *turn, cls *streamjson.Classifier) Result {
	r.cb.TextChunk(cls.Flush())
	fin := cls.Finish()
	if text := t.text.String(); text != "" {
		r.append(ctx, conversation.NewTextMessage(conversation.RoleAssistant, text))
	}
	return Result{
		Success:  true,
		Response: fin.Response,
		IsJSON:   fin.IsJSON,
		Preamble: fin.Preamble,
	}
}

// interrupted handles a stream that failed after it was opened. Text that
// already reached the host is kept as a successful partial answer.
func (r *run) interrupted(ctx context.Context, t *turn, cls *streamjson.Classifier) Result {
	partial := t.text.String()
	if partial == "" {
		classified := r.o.classifier.ClassifyError(r.o.provider.Name(), t.err)
		return r.providerFailure(classified)
	}

	r.cb.TextChunk(cls.Flush())
	r.append(ctx, conversation.NewTextMessage(conversation.RoleAssistant, partial))
	r.logger.Warn().Err(t.err).Int("partial_chars", len(partial)).Msg("stream interrupted after partial response")
	return Result{
		Success:  true,
		Response: partial,
		Error:    "Stream interrupted: " + t.err.Error(),
	}
}

func (r *run) providerFailure(err *resilience.ClassifiedError) Result {
	user := resilience.UserMessage(err.Category, r.o.config.ErrorContext)
	r.logger.Error().
		Err(err).
		Str("category", string(err.Category)).
		Int("http_status", err.HTTPStatus).
		Int("retries_used", r.budget.Used()).
		Msg("provider call failed")
	r.cb.Error(err, user)
	return Result{
		Success:     false,
		Error:       err.Error(),
		UserMessage: user,
	}
}

// failure ends the run with a non-retryable error.
func (r *run) failure(err error, userMessage string) Result {
	r.cb.Error(err, userMessage)
	return Result{
		Success:     false,
		Error:       err.Error(),
		UserMessage: userMessage,
	}
}

func (r *run) cancelled(partial string) Result {
	r.logger.Info().Msg("run cancelled")
	return Result{
		Success:   false,
		Cancelled: true,
		Response:  partial,
		Error:     context.Canceled.Error(),
	}
}

func (r *run) loadHistory(ctx context.Context) error {
	if r.o.store != nil {
		stored, err := r.o.store.GetMessages(ctx, r.req.RunID)
		if err != nil {
			return errors.Wrap(err, "could not load conversation history")
		}
		r.history = stored
	}
	for _, msg := range r.req.Messages {
		r.append(ctx, msg)
	}
	return nil
}

// append adds msg to the live history and persists it. Store failures are
// logged; the run keeps going on the in-memory history.
func (r *run) append(ctx context.Context, msg conversation.Message) {
	r.history = append(r.history, msg)
	r.appended = append(r.appended, msg)
	if r.o.store == nil {
		return
	}
	if err := r.o.store.AppendMessage(ctx, r.req.RunID, msg); err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("could not persist message")
	}
}

// prepareHistory masks stale tool output and compresses the history when it
// is over budget. Compression failures leave the history as it was.
func (r *run) prepareHistory(ctx context.Context) {
	mem := r.o.memory
	if mem == nil {
		return
	}
	masked, _ := mem.MaskObservations(r.history)
	r.history = masked

	if !mem.ShouldCompress(r.history) {
		return
	}
	r.cb.Activity(events.ActivityCompressing, "")
	state, err := mem.Compress(ctx, r.history, r.o.provider)
	if err != nil {
		r.logger.Warn().Err(err).Msg("compression failed, continuing with the full history")
		return
	}
	r.metrics.Compressions++
	r.history = []conversation.Message{memory.StateMessage(state)}
}

func (r *run) handleBatch(ctx context.Context, t *turn, iteration int) *Result {
	cfg := r.o.config
	calls := withCallIDs(t.calls)

	if total := r.metrics.ToolCalls + len(calls); total > cfg.MaxToolCalls {
		r.logger.Warn().Int("requested", len(calls)).Int("used", r.metrics.ToolCalls).Msg("tool call limit reached")
		return ptr(r.failure(
			errors.Wrapf(ErrMaxToolCalls, "a batch of %d calls would bring the run to %d, the limit is %d",
				len(calls), total, cfg.MaxToolCalls),
			fmt.Sprintf("The investigation was stopped after reaching the limit of %d tool calls.", cfg.MaxToolCalls),
		))
	}

	r.cb.Activity(events.ActivityToolCallsPending, fmt.Sprintf("%d tool call(s)", len(calls)))
	r.append(ctx, conversation.NewToolCallMessage(t.text.String(), calls))

	think := t.callsAt.Sub(t.started)
	outcomes := r.executeBatch(ctx, calls, iteration, think)
	r.metrics.ToolCalls += len(calls)

	r.cb.Activity(events.ActivityMerging, "")
	results := make([]conversation.ToolResult, len(outcomes))
	for i, out := range outcomes {
		r.cb.ToolResult(out.call, out.result, out.toolDuration, out.totalDuration)
		results[i] = conversation.ToolResult{
			ToolCallID: out.call.ID,
			Name:       out.call.Name,
			Content:    tools.AgentText(out.result),
			IsError:    !out.result.Success(),
		}
	}
	r.append(ctx, conversation.NewToolResultsMessage(results))

	if ctx.Err() != nil {
		return ptr(r.cancelled(""))
	}
	for _, out := range outcomes {
		e, ok := tools.AsErr(out.result)
		if !ok || e.Recoverable {
			continue
		}
		r.logger.Warn().Str("tool", out.call.Name).Str("code", string(e.Code)).Msg("tool failure ends the run")
		return ptr(r.failure(errors.Errorf("%s: %s", e.Code, e.Message), terminalUserMessage(e)))
	}
	return nil
}

func terminalUserMessage(e tools.Err) string {
	switch e.Code {
	case tools.ErrorCodeLoopDetected:
		return "The investigation was stopped because the agent kept repeating the same tool call."
	case tools.ErrorCodeUserCancelled:
		return "The investigation was stopped because a tool call was declined."
	case tools.ErrorCodeNoConfirmationHandler:
		return "The investigation needs to run a tool that requires confirmation, but no one can confirm it here."
	default:
		return e.Message
	}
}

func ptr(r Result) *Result {
	return &r
}
