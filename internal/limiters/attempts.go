package limiters

import (
	"errors"
	"sync"
)

const defaultMaxAttempts = 5

// ErrAttemptsExhausted is returned by Check once a flow has used its budget.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// AttemptConfig holds the wrong-code budget per flow.
type AttemptConfig struct {
	MaxAttempts int
}

// AttemptLimiter counts wrong one-time-code submissions per flow, in memory.
// Counts do not survive the process; only a fresh code request resets them.
type AttemptLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	counts      map[string]int
}

// NewAttemptLimiter creates an attempt limiter. A zero MaxAttempts falls back
// to 5.
func NewAttemptLimiter(cfg AttemptConfig) *AttemptLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	return &AttemptLimiter{
		maxAttempts: max,
		counts:      make(map[string]int),
	}
}

// Increment records one wrong submission and returns the new count. The count
// saturates at the bound.
func (l *AttemptLimiter) Increment(flowID string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.counts[flowID]
	if n < l.maxAttempts {
		n++
		l.counts[flowID] = n
	}
	return n
}

// Reset zeroes the counter for flowID.
func (l *AttemptLimiter) Reset(flowID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.counts, flowID)
	l.mu.Unlock()
}

// Count returns the current wrong-submission count.
func (l *AttemptLimiter) Count(flowID string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[flowID]
}

// IsExhausted reports whether the flow reached the bound.
func (l *AttemptLimiter) IsExhausted(flowID string) bool {
	if l == nil {
		return false
	}
	return l.Count(flowID) >= l.maxAttempts
}

// Check returns ErrAttemptsExhausted when the flow cannot submit another code.
func (l *AttemptLimiter) Check(flowID string) error {
	if l.IsExhausted(flowID) {
		return ErrAttemptsExhausted
	}
	return nil
}

// Max returns the configured bound.
func (l *AttemptLimiter) Max() int {
	if l == nil {
		return 0
	}
	return l.maxAttempts
}
