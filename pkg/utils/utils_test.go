package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey("B20260105T0000Z", "seller-1", "seller")
	assert.Len(t, a, 32)
	assert.Equal(t, a, IdempotencyKey("B20260105T0000Z", "seller-1", "seller"))
	assert.NotEqual(t, a, IdempotencyKey("B20260106T0000Z", "seller-1", "seller"))
	assert.NotEqual(t, a, IdempotencyKey("B20260105T0000Z", "seller-1", "affiliate"))
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	g, err := NewIDGenerator(1)
	require.NoError(t, err)
	prev := g.Next()
	for i := 0; i < 100; i++ {
		next := g.Next()
		assert.Greater(t, next, prev)
		prev = next
	}

	_, err = NewIDGenerator(4096)
	assert.Error(t, err)
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, 5*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	boom := errors.New("boom")
	calls = 0
	err = RetryWithBackoff(context.Background(), 2, time.Millisecond, time.Millisecond, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetryWithBackoff(ctx, 5, time.Hour, time.Hour, func() error { return boom })
	assert.ErrorIs(t, err, context.Canceled)
}
