package resilience

import "sync"

// RetryBudget bounds the number of retries across one run. It is shared by
// every provider call of the run and never goes below zero.
type RetryBudget struct {
	mu        sync.Mutex
	max       int
	remaining int
}

func NewRetryBudget(max int) *RetryBudget {
	if max < 0 {
		max = 0
	}
	return &RetryBudget{max: max, remaining: max}
}

// Consume takes one retry from the budget. It returns false, and leaves the
// budget untouched, when nothing is left.
func (b *RetryBudget) Consume() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

func (b *RetryBudget) CanRetry() bool {
	return b.Remaining() > 0
}

func (b *RetryBudget) Exhausted() bool {
	return !b.CanRetry()
}

func (b *RetryBudget) Remaining() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

func (b *RetryBudget) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.remaining
}

func (b *RetryBudget) Max() int {
	if b == nil {
		return 0
	}
	return b.max
}

func (b *RetryBudget) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.max
}
