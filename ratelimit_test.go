package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateSpec(t *testing.T) {
	spec, err := parseRateSpec("2s:12:20")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, spec.window)
	assert.Equal(t, 12, spec.soft)
	assert.Equal(t, 20, spec.hard)

	for _, raw := range []string{"", "2s", "2s:12", "2s:12:20:1", "x:12:20", "2s:a:20", "2s:12:b", "0s:12:20", "2s:0:20", "2s:20:12"} {
		_, err := parseRateSpec(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestLimiterSoftAndHard(t *testing.T) {
	l := newLimiter()
	spec := rateSpec{window: 10 * time.Second, soft: 5, hard: 10}
	now := time.Now()

	for i := 1; i <= 5; i++ {
		result := l.check("k", spec, now)
		assert.True(t, result.allowed, "request %d", i)
		assert.Zero(t, result.delay, "request %d", i)
	}

	for i := 6; i <= 10; i++ {
		result := l.check("k", spec, now)
		assert.True(t, result.allowed, "request %d", i)
		assert.GreaterOrEqual(t, result.delay, 300*time.Millisecond, "request %d", i)
		assert.Less(t, result.delay, 800*time.Millisecond, "request %d", i)
	}

	for i := 11; i <= 15; i++ {
		result := l.check("k", spec, now)
		assert.False(t, result.allowed, "request %d", i)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l := newLimiter()
	spec := rateSpec{window: time.Second, soft: 1, hard: 1}
	now := time.Now()

	assert.True(t, l.check("k", spec, now).allowed)
	assert.False(t, l.check("k", spec, now).allowed)

	// The window resets wholesale once resetAt passes; no sliding credit.
	later := now.Add(time.Second + time.Millisecond)
	result := l.check("k", spec, later)
	assert.True(t, result.allowed)
	assert.Zero(t, result.delay)
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := newLimiter()
	spec := rateSpec{window: time.Second, soft: 1, hard: 1}
	now := time.Now()

	assert.True(t, l.check("a", spec, now).allowed)
	assert.False(t, l.check("a", spec, now).allowed)
	assert.True(t, l.check("b", spec, now).allowed)
}

func TestLimiterSweep(t *testing.T) {
	l := newLimiter()
	spec := rateSpec{window: time.Second, soft: 5, hard: 10}
	now := time.Now()

	l.check("stale", spec, now)
	l.check("fresh", spec, now.Add(500*time.Millisecond))

	l.sweep(now.Add(1100 * time.Millisecond))

	assert.NotContains(t, l.buckets, "stale")
	assert.Contains(t, l.buckets, "fresh")
}
