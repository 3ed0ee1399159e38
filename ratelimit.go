package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// rateSpec is one window:soft:hard triple. Exceeding soft imposes a
// randomized delay on the caller; exceeding hard drops the action.
type rateSpec struct {
	window time.Duration
	soft   int
	hard   int
}

func parseRateSpec(raw string) (rateSpec, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return rateSpec{}, fmt.Errorf("expected window:soft:hard, got %q", raw)
	}

	window, err := time.ParseDuration(parts[0])
	if err != nil {
		return rateSpec{}, err
	}
	soft, err := strconv.Atoi(parts[1])
	if err != nil {
		return rateSpec{}, err
	}
	hard, err := strconv.Atoi(parts[2])
	if err != nil {
		return rateSpec{}, err
	}

	if window <= 0 {
		return rateSpec{}, fmt.Errorf("window must be positive: %s", window)
	}
	if soft < 1 || hard < soft {
		return rateSpec{}, fmt.Errorf("need 1 <= soft <= hard, got %d/%d", soft, hard)
	}

	return rateSpec{window: window, soft: soft, hard: hard}, nil
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

type rateResult struct {
	allowed bool
	delay   time.Duration
}

// limiter holds fixed-window counters keyed by arbitrary strings
// (msg:<ip>, join:ip:<ip>, join:room:<code>, answer:<playerId>).
// Windows reset wholesale when resetAt passes; they do not slide.
// Callers serialize access through the engine lock.
type limiter struct {
	buckets map[string]*rateBucket
}

func newLimiter() *limiter {
	return &limiter{buckets: make(map[string]*rateBucket)}
}

func (l *limiter) check(key string, spec rateSpec, now time.Time) rateResult {
	bucket, ok := l.buckets[key]
	if !ok || !bucket.resetAt.After(now) {
		l.buckets[key] = &rateBucket{count: 1, resetAt: now.Add(spec.window)}
		return rateResult{allowed: true}
	}

	bucket.count++
	switch {
	case bucket.count > spec.hard:
		return rateResult{allowed: false}
	case bucket.count > spec.soft:
		return rateResult{allowed: true, delay: softDelay()}
	default:
		return rateResult{allowed: true}
	}
}

// softDelay picks a deferral in [300ms, 800ms).
func softDelay() time.Duration {
	return time.Duration(300+rand.Intn(500)) * time.Millisecond
}

// sweep drops buckets whose window has already expired, bounding growth
// under high-cardinality key churn.
func (l *limiter) sweep(now time.Time) {
	for key, bucket := range l.buckets {
		if !bucket.resetAt.After(now) {
			delete(l.buckets, key)
		}
	}
}
