package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// SleepFunc blocks for d or until ctx is done. Injectable so retry loops are
// deterministically testable without real sleeps.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RealSleep is the production SleepFunc.
func RealSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Strategy selects how the backoff grows between attempts.
type Strategy string

const (
	// StrategyExponential backs off as base × multiplier^attempt.
	StrategyExponential Strategy = "exponential"
	// StrategyLinear backs off as base × (attempt+1).
	StrategyLinear Strategy = "linear"
)

// RetryConfig controls retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff unit. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales exponential backoff. Default: 2.0.
	Multiplier float64

	// Strategy selects the backoff curve. Default: exponential.
	Strategy Strategy

	// ShouldRetry overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff sleep with the attempt number
	// (1-based) and the error that triggered the retry.
	OnRetry func(attempt int, err error)

	// Sleep is the delay function. If nil, RealSleep is used.
	Sleep SleepFunc
}

// DefaultRetryConfig returns the retry configuration used for external API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Strategy:    StrategyExponential,
	}
}

// Do executes fn with retries according to cfg. Only errors deemed transient
// are retried; context cancellation stops the loop immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with the same retry semantics as Do.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = RealSleep
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if !shouldRetry(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if err := sleep(ctx, Backoff(attempt, cfg)); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExponential
	}
	return cfg
}

// Backoff computes the delay before the retry following attempt (0-based).
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	cfg = applyDefaults(cfg)

	var delay float64
	switch cfg.Strategy {
	case StrategyLinear:
		delay = float64(cfg.BaseDelay) * float64(attempt+1)
	default:
		delay = float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	}

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
