package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("U1"), "request %d", i)
	}
	assert.False(t, rl.Allow("U1"))

	// Keys are independent.
	assert.True(t, rl.Allow("U2"))

	// One token refills after a second.
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("U1"))
	assert.False(t, rl.Allow("U1"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("U1"))
	}
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx, "U1"))
	require.NoError(t, rl.Wait(ctx, "U1"))

	canceled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	slow := NewRateLimiter(0.001, 1)
	require.True(t, slow.Allow("U1"))
	assert.Error(t, slow.Wait(canceled, "U1"))
}

func TestRateLimiter_Prune(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(time.Hour)
	rl.Allow("new")

	assert.Equal(t, 1, rl.Prune(30*time.Minute))
	assert.Equal(t, 1, rl.Len())
}
