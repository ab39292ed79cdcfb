package resilience

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Policy retries provider calls that fail with a retryable category while
// the run's RetryBudget allows. Non-retryable errors return immediately and
// do not consume budget.
type Policy struct {
	Provider   string
	Classifier *Classifier
	// Budget is shared across the run. A nil budget allows no retries.
	Budget *RetryBudget
	// OnRetry is called before each retry with the attempt number (1-based)
	// and the delay about to be waited.
	OnRetry func(err *ClassifiedError, attempt int, delay time.Duration)
	Metrics *Metrics
	Logger  *zerolog.Logger

	// Sleep waits for d or until ctx is done. Defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Execute runs fn under the policy. The returned error, if any, is a
// *ClassifiedError.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Policy.Execute.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	logger := p.logger()
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		classified := p.classifier().ClassifyError(p.Provider, err)
		p.Metrics.RecordError(p.Provider, classified.Category)

		switch {
		case !classified.Retryable():
			return zero, classified
		case errors.Is(err, ErrCircuitOpen):
			return zero, classified
		case ctx.Err() != nil:
			return zero, classified
		case !p.Budget.Consume():
			logger.Warn().
				Str("provider", p.Provider).
				Str("category", string(classified.Category)).
				Int("attempts", attempt+1).
				Msg("retry budget exhausted")
			return zero, classified
		}

		delay := classified.RetryAfter
		logger.Info().
			Err(err).
			Str("provider", p.Provider).
			Str("category", string(classified.Category)).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Int("budget_remaining", p.Budget.Remaining()).
			Msg("retrying provider call")
		p.Metrics.RecordRetry(p.Provider, classified.Category)
		if p.OnRetry != nil {
			p.OnRetry(classified, attempt+1, delay)
		}

		if delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return zero, classified
			}
		}
	}
}

func (p *Policy) classifier() *Classifier {
	if p.Classifier == nil {
		return DefaultClassifier()
	}
	return p.Classifier
}

func (p *Policy) logger() *zerolog.Logger {
	if p.Logger == nil {
		return &log.Logger
	}
	return p.Logger
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
