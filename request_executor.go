// request_executor.go
// -------------------
// RequestExecutor runs a task with exponential backoff and jitter. It also
// consults the RateLimiter before each attempt so a backend that told us to
// slow down (429 + reset headers) is not hammered by the retry loop.
package seatbridge

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// JitterMode selects the random scaling applied to each backoff delay.
type JitterMode int

const (
	// JitterNone uses the exact exponential delay.
	JitterNone JitterMode = iota
	// JitterHalf scales the delay by a uniform factor in [0.5, 1.0].
	JitterHalf
	// JitterNarrow scales the delay by a uniform factor in [0.7, 1.0].
	JitterNarrow
)

func (j JitterMode) lowerBound() float64 {
	switch j {
	case JitterHalf:
		return 0.5
	case JitterNarrow:
		return 0.7
	default:
		return 1.0
	}
}

// RetryPolicy configures the executor.
type RetryPolicy struct {
	Retries   int           // attempts after the first one
	BaseDelay time.Duration // delay before the first retry
	MaxDelay  time.Duration // cap for a single delay
	Jitter    JitterMode
}

// DefaultRetryPolicy matches what the backends use unless configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:   2,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    JitterHalf,
	}
}

// RetryableFunc is one attempt. attempt starts at 0.
type RetryableFunc func(ctx context.Context, attempt int) error

// ShouldRetryFunc decides whether a failed attempt is retried. It is only
// consulted while attempts remain.
type ShouldRetryFunc func(err error, attempt int) bool

// DefaultShouldRetry retries transient failures only.
func DefaultShouldRetry(err error, _ int) bool {
	return IsRetryable(err)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestExecutor handles retry logic, backoff, and consulting RateLimiter.
type RequestExecutor struct {
	policy      RetryPolicy
	rateLimiter *RateLimiter
	limiterKey  string
	sleep       Sleeper
	random      func() float64
	logger      *slog.Logger
}

// ExecutorOption customizes a RequestExecutor.
type ExecutorOption func(*RequestExecutor)

// WithRateLimiter makes the executor wait out known rate-limit windows for
// key before each attempt.
func WithRateLimiter(rl *RateLimiter, key string) ExecutorOption {
	return func(re *RequestExecutor) {
		re.rateLimiter = rl
		re.limiterKey = key
	}
}

// WithSleeper replaces the delay implementation, mainly for tests.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(re *RequestExecutor) { re.sleep = s }
}

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) ExecutorOption {
	return func(re *RequestExecutor) { re.random = f }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(re *RequestExecutor) { re.logger = l }
}

func NewRequestExecutor(policy RetryPolicy, opts ...ExecutorOption) *RequestExecutor {
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	re := &RequestExecutor{
		policy: policy,
		sleep:  SleepContext,
		random: rand.Float64,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(re)
	}
	return re
}

// Policy returns the configured policy.
func (re *RequestExecutor) Policy() RetryPolicy { return re.policy }

// Execute runs fn until it succeeds, shouldRetry refuses, attempts run out
// or ctx ends. It returns the number of attempts made and the last error.
func (re *RequestExecutor) Execute(ctx context.Context, shouldRetry ShouldRetryFunc, fn RetryableFunc) (int, error) {
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	var lastErr error
	for attempt := 0; attempt <= re.policy.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt, lastErr
			}
			return attempt, NewCallError(KindTimeout, err, "context done before attempt %d", attempt+1)
		}

		if re.rateLimiter != nil && !re.rateLimiter.canProceed(re.limiterKey) {
			if delay := re.rateLimiter.delayBeforeNextRequest(re.limiterKey); delay > 0 {
				re.logger.Debug("waiting for rate limit window", "key", re.limiterKey, "delay", delay)
				if err := re.sleep(ctx, delay); err != nil {
					return attempt, NewCallError(KindTimeout, err, "rate limit wait interrupted")
				}
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 0 {
				re.logger.Debug("request succeeded after retries", "attempts", attempt+1)
			}
			return attempt + 1, nil
		}
		lastErr = err

		if attempt == re.policy.Retries || !shouldRetry(err, attempt) {
			return attempt + 1, err
		}

		wait := re.calculateBackoff(attempt)
		re.logger.Warn("attempt failed, retrying",
			"attempt", attempt+1, "max_attempts", re.policy.Retries+1, "wait", wait, "error", err)
		if serr := re.sleep(ctx, wait); serr != nil {
			return attempt + 1, lastErr
		}
	}
	return re.policy.Retries + 1, lastErr
}

// calculateBackoff returns min(MaxDelay, BaseDelay*2^attempt) scaled by the
// jitter factor and floored to whole milliseconds.
func (re *RequestExecutor) calculateBackoff(attempt int) time.Duration {
	base := float64(re.policy.BaseDelay.Milliseconds())
	backoff := base * math.Pow(2, float64(attempt))
	if maxMs := float64(re.policy.MaxDelay.Milliseconds()); re.policy.MaxDelay > 0 && backoff > maxMs {
		backoff = maxMs
	}
	if lo := re.policy.Jitter.lowerBound(); lo < 1.0 {
		backoff *= lo + re.random()*(1.0-lo)
	}
	return time.Duration(math.Floor(backoff)) * time.Millisecond
}
