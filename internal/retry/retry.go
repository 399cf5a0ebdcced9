// Package retry provides a configurable retry executor. The exponential
// backoff-with-jitter math follows onedrive-go's graph.Client.calcBackoff;
// the Strategy/Config split generalizes it to the fixed-delay and
// immediate-retry strategies spec.md §4.5 calls for.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Strategy selects how the delay between attempts is computed.
type Strategy int

const (
	// ExponentialBackoff doubles (by Config.Multiplier) the delay each
	// attempt, capped at Config.MaxDelay, then applies jitter.
	ExponentialBackoff Strategy = iota
	// FixedDelay waits Config.InitialDelay between every attempt.
	FixedDelay
	// Immediate retries with no delay.
	Immediate
)

// Config parameterizes a retry executor.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultConfig matches the original client's Default impl: 3 retries,
// 1s initial delay, 30s cap, 2x multiplier, 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Delay computes the exponential-backoff-with-jitter duration for the
// given zero-based attempt number, following onedrive-go's calcBackoff:
// raise Multiplier to attempt, cap at MaxDelay, then jitter by ±JitterFactor.
func (c Config) Delay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	jitter := delay * c.JitterFactor * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand

	delay += jitter
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// RetryableError is satisfied by errors that carry their own retry
// classification, allowing Executor.Do to distinguish transient failures
// (network blips, 5xx, 429) from permanent ones (validation, 4xx) without
// a hardcoded type switch.
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable reports whether err should trigger another attempt: true if
// err implements RetryableError and returns true, false otherwise —
// including for errors that don't implement the interface at all. Per
// spec.md §7's taxonomy, only network/transport, remote-unavailable,
// deadline-exceeded, and client-timeout kinds are retryable; an
// unclassified error gives no evidence the failure is transient, so
// treating it as retryable by default would retry permanent failures
// (parse, validation, sync-logic) with the same futile backoff as a
// dropped connection. A context deadline is retryable even when it
// reaches here unwrapped, since timing out mid-operation is exactly the
// transient case the taxonomy calls out.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// Result carries the outcome of Executor.DoWithResult: the final value (or
// zero value), the number of attempts made, and the last error if the
// operation never succeeded.
type Result[T any] struct {
	Value      T
	Attempts   int
	LastErr    error
	Succeeded  bool
}

// Executor runs an operation with retry according to a Config and Strategy.
type Executor struct {
	config   Config
	strategy Strategy
	logger   *slog.Logger

	// sleep is overridable for deterministic tests, matching the
	// teacher's sleepFunc field on graph.Client.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Executor using ExponentialBackoff by default.
func New(config Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		config:   config,
		strategy: ExponentialBackoff,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// WithStrategy returns a copy of e using the given Strategy.
func (e *Executor) WithStrategy(s Strategy) *Executor {
	cp := *e
	cp.strategy = s

	return &cp
}

// delayFor returns the wait before the next attempt under e's strategy.
func (e *Executor) delayFor(attempt int) time.Duration {
	switch e.strategy {
	case FixedDelay:
		return e.config.InitialDelay
	case Immediate:
		return 0
	default:
		return e.config.Delay(attempt)
	}
}

// Do runs operation, retrying on retryable errors up to config.MaxRetries
// additional times, honoring ctx cancellation between attempts.
func (e *Executor) Do(ctx context.Context, name string, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("retry: operation succeeded", "operation", name, "attempt", attempt)
			}

			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			e.logger.Debug("retry: non-retryable error", "operation", name, "error", err)
			return err
		}

		if attempt == e.config.MaxRetries {
			e.logger.Warn("retry: attempts exhausted", "operation", name, "attempts", attempt+1, "error", err)
			return err
		}

		delay := e.delayFor(attempt)
		e.logger.Warn("retry: attempt failed, retrying",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", e.config.MaxRetries+1,
			"delay", delay,
			"error", err,
		)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return lastErr
}

// DoWithResult runs operation via Do and reports the detailed outcome
// instead of discarding the attempt count, mirroring the original
// client's execute_with_result.
func DoWithResult[T any](ctx context.Context, e *Executor, name string, operation func(ctx context.Context) (T, error)) Result[T] {
	var (
		value    T
		attempts int
	)

	err := e.Do(ctx, name, func(ctx context.Context) error {
		attempts++

		v, opErr := operation(ctx)
		if opErr != nil {
			return opErr
		}

		value = v

		return nil
	})

	return Result[T]{
		Value:     value,
		Attempts:  attempts,
		LastErr:   err,
		Succeeded: err == nil,
	}
}

// sleepCtx waits for d or ctx cancellation, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
