package cmds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/lifeguard/pkg/conversation"
	"github.com/go-go-golems/lifeguard/pkg/events"
	"github.com/go-go-golems/lifeguard/pkg/inference/memory"
	"github.com/go-go-golems/lifeguard/pkg/inference/orchestrator"
	"github.com/go-go-golems/lifeguard/pkg/inference/resilience"
	"github.com/go-go-golems/lifeguard/pkg/inference/safety"
	"github.com/go-go-golems/lifeguard/pkg/inference/tools"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai"
	"github.com/go-go-golems/lifeguard/pkg/steps/ai/settings"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are lifeguard, an agent that debugs ephemeral pull-request environments.
Use the tools to inspect the workspace before drawing conclusions. When you are done, answer with a
short explanation or, for a structured diagnosis, a single JSON object with "type": "diagnosis".`

type debugOptions struct {
	prompt      string
	model       string
	runID       string
	workspace   string
	db          string
	history     string
	save        string
	topic       string
	metricsAddr string
	yes         bool
}

// viper keys bound to debug flags
var debugFlagKeys = map[string]string{
	"provider":       "agent.provider",
	"system-prompt":  "agent.system_prompt",
	"max-iterations": "agent.orchestrator.max_iterations",
	"max-tool-calls": "agent.orchestrator.max_tool_calls",
	"retry-budget":   "agent.orchestrator.retry_budget",
	"tool-timeout":   "agent.safety.execution_timeout",
	"compress-at":    "agent.memory.threshold",
	"estimator":      "agent.memory.estimator",
}

func NewDebugCommand() (*cobra.Command, error) {
	opts := &debugOptions{}
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Run one agent session against a workspace",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for flag, key := range debugFlagKeys {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.prompt == "" {
				return errors.New("--prompt is required")
			}
			return runDebug(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.prompt, "prompt", "p", "", "What to investigate")
	f.StringVar(&opts.runID, "run-id", "", "Conversation id; reuse it with --db to continue a conversation")
	f.StringVar(&opts.workspace, "workspace", ".", "Directory the demo tools operate on")
	f.StringVar(&opts.db, "db", "", "SQLite file to persist the conversation in")
	f.StringVar(&opts.history, "history", "", "JSON or YAML file with messages that precede the prompt")
	f.StringVar(&opts.save, "save", "", "Write the final conversation to this JSON or YAML file")
	f.StringVar(&opts.topic, "events-topic", "lifeguard", "Watermill topic run events are published on")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address during the run")
	f.BoolVarP(&opts.yes, "yes", "y", false, "Approve every dangerous tool call without asking")

	defaults := settings.NewAgentSettings()
	f.String("provider", defaults.Provider, "LLM provider (openai, anthropic)")
	f.String("system-prompt", defaultSystemPrompt, "System prompt")
	f.Int("max-iterations", defaults.Orchestrator.MaxIterations, "Maximum model turns per run")
	f.Int("max-tool-calls", defaults.Orchestrator.MaxToolCalls, "Maximum tool calls per run")
	f.Int("retry-budget", defaults.Orchestrator.RetryBudget, "Provider retries allowed per run")
	f.Duration("tool-timeout", defaults.Safety.ExecutionTimeout, "Timeout of a single tool call")
	f.Int("compress-at", defaults.Memory.Threshold, "Token estimate above which history is compressed (0 disables)")
	f.String("estimator", defaults.Memory.Estimator, "Token estimator (chars, tiktoken)")
	f.StringVarP(&opts.model, "model", "m", "", "Model of the selected provider (defaults to the configured one)")

	return cmd, nil
}

func runDebug(ctx context.Context, w io.Writer, opts *debugOptions) error {
	s, err := settings.LoadFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if opts.model != "" {
		switch s.Agent.NormalizedProvider() {
		case settings.ProviderOpenAI:
			s.OpenAI.Model = opts.model
		case settings.ProviderAnthropic:
			s.Claude.Model = opts.model
		}
	}
	logger := log.Logger
	logger.Info().Fields(s.GetMetadata()).Msg("starting debug session")

	factory := ai.NewProviderFactory(s)
	factory.Logger = logger
	provider, err := factory.NewProvider()
	if err != nil {
		return errors.Wrap(err, "could not create provider")
	}

	registry, err := demoTools(opts.workspace)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	resilienceMetrics := resilience.NewMetrics(reg)
	runMetrics := orchestrator.NewMetrics(reg)
	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", opts.metricsAddr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	breakers := resilience.NewBreakerRegistry(s.Agent.Breaker,
		resilience.WithRegistryMetrics(resilienceMetrics),
		resilience.WithRegistryLogger(logger),
	)

	var store conversation.Store = conversation.NewInMemoryStore()
	if opts.db != "" {
		sqlite, err := conversation.NewSQLiteStore(opts.db)
		if err != nil {
			return err
		}
		defer func() { _ = sqlite.Close() }()
		store = sqlite
	}

	estimator, err := memory.NewEstimator(s.Agent.Memory.Estimator, s.Model())
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to the character estimator")
		estimator = memory.CharEstimator{}
	}
	mem := memory.NewManager(s.Agent.Memory, memory.WithEstimator(estimator), memory.WithLogger(logger))

	router, err := events.NewEventRouter(events.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() { _ = router.Close() }()
	router.AddHandler("printer", opts.topic, events.StepPrinterFunc("lifeguard", w))

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	sink := router.Sink(opts.topic)
	aggregator := events.NewToolEventAggregator()
	confirm := terminalConfirmation(opts.yes)
	callbacks := events.Tee(
		events.SinkCallbacks(sink, runID),
		events.SinkCallbacks(aggregator, runID),
		&events.Callbacks{OnToolConfirmation: events.ConfirmationEvent(sink, runID, confirm)},
	)

	orch, err := orchestrator.New(provider, registry,
		orchestrator.WithConfig(s.Agent.Orchestrator),
		orchestrator.WithSafetyManager(safety.NewManager(s.Agent.Safety, safety.WithLogger(logger))),
		orchestrator.WithMemoryManager(mem),
		orchestrator.WithBreakerRegistry(breakers),
		orchestrator.WithResilienceMetrics(resilienceMetrics),
		orchestrator.WithMetrics(runMetrics),
		orchestrator.WithStore(store),
		orchestrator.WithCallbacks(callbacks),
		orchestrator.WithEventSinks(sink),
		orchestrator.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var messages []conversation.Message
	if opts.history != "" {
		messages, err = conversation.LoadFromFile(opts.history)
		if err != nil {
			return err
		}
	}
	messages = append(messages, conversation.NewTextMessage(conversation.RoleUser, opts.prompt))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})

	var res orchestrator.Result
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		res = orch.Run(ctx, orchestrator.RunRequest{
			RunID:        runID,
			SystemPrompt: s.Agent.SystemPrompt,
			Messages:     messages,
		})
		_ = sink.PublishEvent(events.NewFinalEvent(events.NewEventMetadata(runID), res.Response, res.Success, res.IsJSON))
		return nil
	})
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if opts.save != "" {
		if err := saveConversation(store, runID, opts.save); err != nil {
			logger.Error().Err(err).Str("file", opts.save).Msg("could not save conversation")
		}
	}

	for _, snap := range breakers.Snapshot() {
		logger.Info().
			Str("breaker", snap.Name).
			Str("state", snap.StateName).
			Int("consecutive_failures", snap.ConsecutiveFailures).
			Int64("total_failures", snap.TotalFailures).
			Int64("total_rejections", snap.TotalRejections).
			Msg("circuit breaker")
	}

	return printSummary(w, res, aggregator.Lines())
}

// saveConversation writes everything stored under runID, including
// messages of earlier runs that shared the id.
func saveConversation(store conversation.Store, runID string, filename string) error {
	msgs, err := store.GetMessages(context.Background(), runID)
	if err != nil {
		return err
	}
	return conversation.SaveToFile(filename, msgs)
}

func printSummary(w io.Writer, res orchestrator.Result, toolLines []string) error {
	if len(toolLines) > 0 {
		fmt.Fprintln(w, "\n=== Tool calls ===")
		for _, l := range toolLines {
			fmt.Fprintln(w, l)
		}
	}
	if res.IsJSON {
		fmt.Fprintln(w, "\n=== Diagnosis ===")
		fmt.Fprintln(w, res.Response)
	}

	fmt.Fprintln(w, "\n=== Run ===")
	summary := map[string]interface{}{
		"run_id":  res.RunID,
		"success": res.Success,
		"metrics": res.Metrics,
	}
	if res.Error != "" {
		summary["error"] = res.Error
	}
	b, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}

	switch {
	case res.Cancelled:
		return errors.New("run cancelled")
	case !res.Success && res.UserMessage != "":
		return errors.New(res.UserMessage)
	case !res.Success:
		return errors.New(res.Error)
	}
	return nil
}

// terminalConfirmation asks on the controlling terminal before a gated tool
// runs. Prompts from parallel tool calls are asked one at a time.
func terminalConfirmation(autoApprove bool) func(ctx context.Context, details tools.ConfirmationDetails) (bool, error) {
	p := &confirmationPrompt{
		autoApprove: autoApprove,
		isTerminal: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
		ask: askOnTerminal,
	}
	return p.confirm
}

type confirmationPrompt struct {
	mu          sync.Mutex
	autoApprove bool
	isTerminal  func() bool
	ask         func(query string) (string, error)
}

func (p *confirmationPrompt) confirm(ctx context.Context, details tools.ConfirmationDetails) (bool, error) {
	if p.autoApprove {
		return true, nil
	}
	if !p.isTerminal() {
		return false, ErrNoTerminal
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}

	query := fmt.Sprintf("\n%s\n  %s\nApprove? [y/n]", details.Title, details.Message)
	answer, err := p.ask(query)
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// ErrNoTerminal is returned when a tool call needs approval but stdin cannot
// prompt a human.
var ErrNoTerminal = errors.New("stdin is not a terminal; pass --yes to approve tool calls")

func askOnTerminal(query string) (string, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	return ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no":
				return nil
			default:
				return errors.New("please answer y or n")
			}
		},
	})
}
