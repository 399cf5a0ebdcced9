package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classifiedErr struct {
	msg       string
	retryable bool
}

func (e *classifiedErr) Error() string    { return e.msg }
func (e *classifiedErr) Retryable() bool { return e.retryable }

func fastExecutor() *Executor {
	e := New(Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	return e
}

func TestConfig_Delay_GrowsExponentially(t *testing.T) {
	c := Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, JitterFactor: 0}

	d0 := c.Delay(0)
	d1 := c.Delay(1)
	d2 := c.Delay(2)

	assert.Equal(t, time.Second, d0)
	assert.Equal(t, 2*time.Second, d1)
	assert.Equal(t, 4*time.Second, d2)
}

func TestConfig_Delay_CapsAtMax(t *testing.T) {
	c := Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0, JitterFactor: 0}
	assert.Equal(t, 5*time.Second, c.Delay(10))
}

func TestExecutor_Do_SucceedsFirstTry(t *testing.T) {
	e := fastExecutor()
	calls := 0

	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_Do_RetriesUntilSuccess(t *testing.T) {
	e := fastExecutor()
	calls := 0

	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &classifiedErr{msg: "transient", retryable: true}
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecutor_Do_NonRetryableStopsImmediately(t *testing.T) {
	e := fastExecutor()
	calls := 0

	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &classifiedErr{msg: "permanent", retryable: false}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_Do_ExhaustsRetries(t *testing.T) {
	e := fastExecutor()
	calls := 0

	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &classifiedErr{msg: "always fails", retryable: true}
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial + 3 retries
}

func TestExecutor_Do_ContextCanceledDuringSleep(t *testing.T) {
	e := New(Config{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1, JitterFactor: 0}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Do(ctx, "op", func(ctx context.Context) error {
		return &classifiedErr{msg: "transient", retryable: true}
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_WithStrategy_FixedDelay(t *testing.T) {
	e := fastExecutor().WithStrategy(FixedDelay)
	assert.Equal(t, e.config.InitialDelay, e.delayFor(5))
}

func TestExecutor_WithStrategy_Immediate(t *testing.T) {
	e := fastExecutor().WithStrategy(Immediate)
	assert.Equal(t, time.Duration(0), e.delayFor(0))
}

func TestDoWithResult_ReportsAttemptsAndValue(t *testing.T) {
	e := fastExecutor()
	calls := 0

	res := DoWithResult(context.Background(), e, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", &classifiedErr{msg: "retry me", retryable: true}
		}

		return "done", nil
	})

	require.True(t, res.Succeeded)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 2, res.Attempts)
	assert.NoError(t, res.LastErr)
}

func TestIsRetryable_DefaultsFalseForUnclassified(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsRetryable_DeadlineExceededIsRetryableEvenUnwrapped(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("doing thing: %w", context.DeadlineExceeded)))
}

func TestIsRetryable_RespectsClassification(t *testing.T) {
	assert.False(t, IsRetryable(&classifiedErr{retryable: false}))
	assert.True(t, IsRetryable(&classifiedErr{retryable: true}))
}
