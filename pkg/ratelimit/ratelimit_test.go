package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	require.NoError(t, l.Wait(context.Background()))
}

func TestBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.001, BurstSize: 2})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestBackoffBlocksAllow(t *testing.T) {
	l := New(Config{})
	l.RecordRateLimitError(time.Hour)
	assert.False(t, l.Allow())
	assert.True(t, l.BackoffUntil().After(time.Now().Add(59*time.Minute)))

	// 更短的退避不会缩短已有的退避期
	before := l.BackoffUntil()
	l.RecordRateLimitError(time.Second)
	assert.Equal(t, before, l.BackoffUntil())
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(Config{})
	l.RecordRateLimitError(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAfterShortBackoff(t *testing.T) {
	l := New(Config{})
	l.RecordRateLimitError(10 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDefaultBackoff(t *testing.T) {
	l := New(Config{})
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	l.RecordRateLimitError(0)
	assert.Equal(t, fixed.Add(DefaultBackoff), l.BackoffUntil())
}
