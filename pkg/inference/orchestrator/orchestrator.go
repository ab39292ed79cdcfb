package orchestrator

import (
	"context"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/engine"
	"github.com/go-go-golems/lifeguard/pkg/inference/loopdetect"
	"github.com/go-go-golems/lifeguard/pkg/inference/memory"
	"github.com/go-go-golems/lifeguard/pkg/inference/resilience"
	"github.com/go-go-golems/lifeguard/pkg/inference/safety"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMaxIterations = errors.New("maximum iterations reached")
	ErrMaxToolCalls  = errors.New("maximum tool calls reached")
)

// Orchestrator drives the stream, execute, merge loop of an agent run. One
// Orchestrator serves any number of concurrent runs; per-run state lives in
// Run.
type Orchestrator struct {
	provider   engine.Provider
	registry   tools.ToolRegistry
	config     Config
	safety     *safety.Manager
	memory     *memory.Manager
	breakers   *resilience.BreakerRegistry
	classifier *resilience.Classifier
	retryStats *resilience.Metrics
	metrics    *Metrics
	callbacks  *events.Callbacks
	sinks      []events.EventSink
	store      conversation.Store
	logger     zerolog.Logger
}

type Option func(*Orchestrator)

func WithConfig(config Config) Option {
	return func(o *Orchestrator) { o.config = config }
}

func WithSafetyManager(m *safety.Manager) Option {
	return func(o *Orchestrator) { o.safety = m }
}

// WithMemoryManager enables observation masking and compression.
func WithMemoryManager(m *memory.Manager) Option {
	return func(o *Orchestrator) { o.memory = m }
}

func WithBreakerRegistry(r *resilience.BreakerRegistry) Option {
	return func(o *Orchestrator) { o.breakers = r }
}

func WithClassifier(c *resilience.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithResilienceMetrics(m *resilience.Metrics) Option {
	return func(o *Orchestrator) { o.retryStats = m }
}

// WithCallbacks sets callbacks shared by every run. Callbacks passed in a
// RunRequest are called after these.
func WithCallbacks(cb *events.Callbacks) Option {
	return func(o *Orchestrator) { o.callbacks = cb }
}

// WithEventSinks makes sinks available to tools through their context, see
// events.PublishProgress.
func WithEventSinks(sinks ...events.EventSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

func WithStore(s conversation.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func New(provider engine.Provider, registry tools.ToolRegistry, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("orchestrator needs a provider")
	}
	o := &Orchestrator{
		provider: provider,
		registry: registry,
		config:   DefaultConfig(),
		logger:   log.Logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.registry == nil {
		o.registry = tools.NewInMemoryToolRegistry()
	}
	if o.safety == nil {
		o.safety = safety.NewManager(safety.DefaultConfig(), safety.WithLogger(o.logger))
	}
	if o.breakers == nil {
		o.breakers = resilience.DefaultBreakers()
	}
	if o.classifier == nil {
		o.classifier = resilience.DefaultClassifier()
	}
	o.config = o.config.normalized()
	o.logger = o.logger.With().Str("component", "orchestrator").Logger()
	return o, nil
}

func (o *Orchestrator) Config() Config {
	return o.config
}

type RunRequest struct {
	// RunID keys the conversation store. A random id is used when empty.
	RunID string
	// Messages are appended to any history already stored under RunID.
	Messages     []conversation.Message
	SystemPrompt string
	Callbacks    *events.Callbacks
}

type RunMetrics struct {
	Iterations   int           `json:"iterations" yaml:"iterations"`
	ToolCalls    int           `json:"tool_calls" yaml:"tool_calls"`
	Retries      int           `json:"retries" yaml:"retries"`
	Compressions int           `json:"compressions" yaml:"compressions"`
	InputTokens  int           `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int           `json:"output_tokens" yaml:"output_tokens"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Result is the outcome of a run. Error carries the underlying failure text
// for logs; UserMessage is the wording meant for end users.
type Result struct {
	RunID       string `json:"run_id" yaml:"run_id"`
	Success     bool   `json:"success" yaml:"success"`
	Response    string `json:"response,omitempty" yaml:"response,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
	UserMessage string `json:"user_message,omitempty" yaml:"user_message,omitempty"`
	Cancelled   bool   `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	IsJSON      bool   `json:"is_json,omitempty" yaml:"is_json,omitempty"`
	// Preamble is the prose that preceded a JSON response.
	Preamble string     `json:"preamble,omitempty" yaml:"preamble,omitempty"`
	Metrics  RunMetrics `json:"metrics" yaml:"metrics"`
	// Messages are the messages the run appended to the history.
	Messages []conversation.Message `json:"-" yaml:"-"`
}

// Run executes one agent run to completion. Failures are reported in the
// Result, never as a panic or a separate error.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) Result {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r := &run{
		o:        o,
		req:      req,
		cb:       events.Tee(o.callbacks, req.Callbacks),
		logger:   o.logger.With().Str("run_id", req.RunID).Logger(),
		budget:   resilience.NewRetryBudget(o.config.RetryBudget),
		detector: loopdetect.New(o.config.MaxRepeatedCalls),
		defs:     tools.Definitions(o.registry),
		start:    time.Now(),
	}

	r.logger.Info().
		Str("provider", o.provider.Name()).
		Int("tools", len(r.defs)).
		Int("max_iterations", o.config.MaxIterations).
		Msg("starting run")

	res := r.loop(ctx)
	res.RunID = req.RunID
	r.metrics.Duration = time.Since(r.start)
	res.Metrics = r.metrics
	res.Messages = conversation.CloneMessages(r.appended)

	outcome := "completed"
	switch {
	case res.Cancelled:
		outcome = "cancelled"
		r.cb.Activity(events.ActivityCancelled, "")
	case res.Success:
		r.cb.Activity(events.ActivityCompleted, "")
	default:
		outcome = "failed"
		r.cb.Activity(events.ActivityFailed, res.UserMessage)
	}
	o.metrics.recordRun(outcome, r.metrics.Duration)

	ev := r.logger.Info()
	if !res.Success {
		ev = r.logger.Warn().Str("error", res.Error)
	}
	ev.Str("outcome", outcome).
		Int("iterations", r.metrics.Iterations).
		Int("tool_calls", r.metrics.ToolCalls).
		Int("retries", r.metrics.Retries).
		Dur("duration", r.metrics.Duration).
		Msg("run finished")
	return res
}
