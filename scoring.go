package main

import "math"

const (
	maxPoints      = 1000
	fastAnswerMs   = 500
	defaultRoundMs = 10000
)

type scoreResult struct {
	points           int
	correctIncrement int
	streakDelta      int
}

// score is a pure function of correctness and timing. streakDelta -1 means
// "reset the streak to 0", not an additive delta. Answers inside the fast
// window earn full points; after that the award decays linearly so that an
// answer exactly at the deadline still earns half, never zero.
func score(isCorrect bool, latencyMs, durationMs int64, multiplier float64) scoreResult {
	if !isCorrect {
		return scoreResult{points: 0, correctIncrement: 0, streakDelta: -1}
	}

	if multiplier <= 0 {
		multiplier = 1
	}
	if durationMs < 1 {
		durationMs = 1
	}
	if latencyMs < 0 {
		latencyMs = 0
	}

	if latencyMs <= fastAnswerMs {
		return scoreResult{
			points:           int(math.Round(maxPoints * multiplier)),
			correctIncrement: 1,
			streakDelta:      1,
		}
	}

	ratio := 1 - (float64(latencyMs)/float64(durationMs))/2
	ratio = math.Max(0, math.Min(1, ratio))

	return scoreResult{
		points:           int(math.Round(maxPoints * multiplier * ratio)),
		correctIncrement: 1,
		streakDelta:      1,
	}
}
