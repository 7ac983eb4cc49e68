package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), zaptest.NewLogger(t), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithBackoffExhausts(t *testing.T) {
	sentinel := errors.New("down")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(4), zaptest.NewLogger(t), "op", func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 4, calls)
}

func TestWithBackoffPermanentStopsEarly(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), nil, "op", func() error {
		calls++
		return Permanent(sentinel)
	})
	require.Equal(t, sentinel, err)
	require.Equal(t, 1, calls)
}

func TestWithBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(3), nil, "op", func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoffCapped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2}
	require.Equal(t, time.Second, calculateBackoff(cfg, 1))
	require.Equal(t, 2*time.Second, calculateBackoff(cfg, 2))
	require.Equal(t, 4*time.Second, calculateBackoff(cfg, 5))
}
