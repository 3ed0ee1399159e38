package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresRooms(t *testing.T) {
	engine := newTestEngine(t)
	w := connectWire(t, engine, "10.0.0.1", "c1")
	sendJoin(engine, w, "STALE", "p1", "cat")

	engine.mu.Lock()
	engine.rooms["STALE"].ExpiresAt = time.Now().Add(-time.Minute)
	engine.getOrCreateRoom("FRESH")
	engine.mu.Unlock()

	engine.sweep(time.Now())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.NotContains(t, engine.rooms, "STALE")
	assert.Contains(t, engine.rooms, "FRESH")
	assert.Equal(t, int64(1), engine.metrics.RoomsExpired)

	// The surviving session lost its binding along with the room.
	sess := engine.sessions[w]
	require.NotNil(t, sess)
	assert.Empty(t, sess.joinedRoom)
	assert.Empty(t, sess.playerID)
}

func TestSweepTouchKeepsRoomAlive(t *testing.T) {
	engine := newTestEngine(t)

	engine.mu.Lock()
	room := engine.getOrCreateRoom("BUSY")
	room.ExpiresAt = time.Now().Add(-time.Minute)
	engine.touchRoom(room)
	engine.mu.Unlock()

	engine.sweep(time.Now())

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Contains(t, engine.rooms, "BUSY")
	assert.Zero(t, engine.metrics.RoomsExpired)
}

func TestSweepPrunesBucketsAndCooldowns(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Now()

	engine.mu.Lock()
	engine.limits.check("msg:1.2.3.4", rateSpec{window: time.Second, soft: 5, hard: 10}, now.Add(-time.Minute))
	engine.cooldowns["p1"] = now.Add(-time.Minute)
	engine.cooldowns["p2"] = now
	engine.mu.Unlock()

	engine.sweep(now)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.limits.buckets)
	assert.NotContains(t, engine.cooldowns, "p1")
	assert.Contains(t, engine.cooldowns, "p2")
}

func TestSweepRetentionWindow(t *testing.T) {
	engine := newTestEngine(t)
	now := time.Now()
	old := now.Add(-31 * 24 * time.Hour).UnixMilli()
	recent := now.Add(-time.Hour).UnixMilli()

	engine.mu.Lock()
	engine.compliance = []complianceEvent{{At: old, Accepted: true}, {At: recent, Accepted: false}}
	engine.analytics = []analyticsEvent{{At: old, Event: "room_created"}, {At: recent, Event: "round_started"}}
	engine.mu.Unlock()

	engine.sweep(now)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	require.Len(t, engine.compliance, 1)
	assert.Equal(t, recent, engine.compliance[0].At)
	require.Len(t, engine.analytics, 1)
	assert.Equal(t, "round_started", engine.analytics[0].Event)
}
