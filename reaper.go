/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"time"
)

// reaperLoop runs the periodic expiry sweep until the context is cancelled.
func (e *Engine) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

// sweep removes rooms past their expiry, prunes dead rate buckets and stale
// cooldowns, and enforces the retention window on the event buffers. Rooms
// expire as a whole; a sweep never mutates a live room.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for code, room := range e.rooms {
		if room.ExpiresAt.After(now) {
			continue
		}
		delete(e.rooms, code)
		e.metrics.RoomsExpired++
		logf(e.cfg, "REAPER: Expired %s (%d players)", code, room.playerCount())

		for _, sess := range e.sessions {
			if sess.joinedRoom == code {
				sess.joinedRoom = ""
				sess.playerID = ""
			}
		}
	}

	e.limits.sweep(now)

	for key, last := range e.cooldowns {
		if now.Sub(last) > e.cfg.answerCooldown {
			delete(e.cooldowns, key)
		}
	}

	cutoff := now.Add(-e.cfg.logRetention).UnixMilli()
	e.compliance = trimCompliance(e.compliance, cutoff)
	e.analytics = trimAnalytics(e.analytics, cutoff)
}

func trimCompliance(events []complianceEvent, cutoff int64) []complianceEvent {
	for i, event := range events {
		if event.At >= cutoff {
			return events[i:]
		}
	}
	return events[:0]
}

func trimAnalytics(events []analyticsEvent, cutoff int64) []analyticsEvent {
	for i, event := range events {
		if event.At >= cutoff {
			return events[i:]
		}
	}
	return events[:0]
}
