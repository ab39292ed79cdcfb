package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker("openai", BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second}, WithClock(clock.Now))
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, StateClosed, cb.State())

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Contains(t, err.Error(), "openai")
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock.Advance(29 * time.Second)
	require.Error(t, cb.Allow())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Allow())
	require.Error(t, cb.Allow(), "only one trial call while half-open")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Allow())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	require.Error(t, cb.Allow())

	clock.Advance(30 * time.Second)
	require.NoError(t, cb.Allow())
}

func TestBreakerExecute(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)
	boom := errors.New("boom")
	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return boom
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, boom, cb.Execute(context.Background(), fail))
	}
	err := cb.Execute(context.Background(), fail)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, 3, calls)

	// a cancelled trial does not count against the provider
	clock.Advance(30 * time.Second)
	err = cb.Execute(context.Background(), func(ctx context.Context) error { return context.Canceled })
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
	assert.Equal(t, int64(3), cb.Snapshot().TotalFailures)
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewBreakerRegistry(DefaultBreakerConfig(), WithRegistryLogger(zerolog.Nop()))
	a := r.Get("openai")
	assert.Same(t, a, r.Get("openai"))
	assert.NotSame(t, a, r.Get("anthropic"))

	a.RecordFailure()
	r.ResetAll()
	b := r.Get("openai")
	assert.NotSame(t, a, b)
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
	assert.Equal(t, 1, a.Snapshot().ConsecutiveFailures)
}

func TestRegistrySnapshotAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	clock := newFakeClock()
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute},
		WithRegistryLogger(zerolog.Nop()),
		WithRegistryMetrics(m),
		WithBreakerOptions(WithClock(clock.Now)),
	)

	r.Get("openai")
	r.Get("anthropic").RecordFailure()

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "anthropic", snap[0].Name)
	assert.Equal(t, "open", snap[0].StateName)
	assert.Equal(t, "closed", snap[1].StateName)

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(m.breakerState.WithLabelValues("anthropic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTrips.WithLabelValues("anthropic")))
}

func TestDefaultBreakers(t *testing.T) {
	ResetAllCircuitBreakers()
	defer ResetAllCircuitBreakers()

	cb := GetProviderCircuitBreaker("test-provider")
	assert.Same(t, cb, DefaultBreakers().Get("test-provider"))
	ResetAllCircuitBreakers()
	assert.NotSame(t, cb, GetProviderCircuitBreaker("test-provider"))
}
