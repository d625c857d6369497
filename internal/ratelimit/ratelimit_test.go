package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindow_allowsUpToLimit(t *testing.T) {
	limiter := NewSlidingWindow(3, time.Minute)

	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.True(t, limiter.Allow("1.2.3.4"))
	assert.False(t, limiter.Allow("1.2.3.4"))
}

func TestSlidingWindow_keysAreIndependent(t *testing.T) {
	limiter := NewSlidingWindow(1, time.Minute)

	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))
}

func TestSlidingWindow_expiresOldHits(t *testing.T) {
	limiter := NewSlidingWindow(1, time.Minute)

	current := time.Now()
	limiter.now = func() time.Time { return current }

	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))

	current = current.Add(2 * time.Minute)
	require.True(t, limiter.Allow("a"))
}

func TestUnlimited(t *testing.T) {
	var limiter Limiter = Unlimited{}
	for range 100 {
		require.True(t, limiter.Allow("x"))
	}
}
