/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
)

// requireTestToken wraps the test-control handlers behind a bearer token.
// With no token configured the endpoints stay wide open, which is only
// acceptable because they are opt-in via --test-api.
func requireTestToken(cfg *Config, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if cfg.testToken != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != cfg.testToken {
				writeJSON(cfg, w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r, p)
	}
}

type testPlayerRequest struct {
	PlayerID string `json:"playerId"`
	AvatarID string `json:"avatarId"`
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
}

type testStageRequest struct {
	stagePayload
	Force bool `json:"force"`
}

type testAnswerRequest struct {
	PlayerID      string  `json:"playerId"`
	AnswerIndex   int     `json:"answerIndex"`
	QuestionIndex *int    `json:"questionIndex"`
	LatencyMs     int64   `json:"latencyMs"`
	Multiplier    float64 `json:"multiplier"`
}

type testBroadcastRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func registerTestRoutes(cfg *Config, engine *Engine, mux *httprouter.Router) {
	gate := func(h httprouter.Handle) httprouter.Handle {
		return requireTestToken(cfg, h)
	}

	mux.GET(cfg.prefix+"/test/rooms", gate(testListRooms(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms", gate(testCreateRoom(cfg, engine)))
	mux.GET(cfg.prefix+"/test/rooms/:roomCode", gate(testGetRoom(cfg, engine)))
	mux.DELETE(cfg.prefix+"/test/rooms/:roomCode", gate(testDeleteRoom(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/players", gate(testUpsertPlayer(cfg, engine)))
	mux.DELETE(cfg.prefix+"/test/rooms/:roomCode/players/:playerId", gate(testRemovePlayer(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/stage", gate(testSetStage(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/lock", gate(testSetLock(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/question", gate(testSetQuestion(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/answer", gate(testSubmitAnswer(cfg, engine)))
	mux.POST(cfg.prefix+"/test/rooms/:roomCode/broadcast", gate(testBroadcast(cfg, engine)))
	mux.POST(cfg.prefix+"/test/reset", gate(testReset(cfg, engine)))
	mux.GET(cfg.prefix+"/test/incidents", gate(testListIncidents(cfg, engine)))
}

func testListRooms(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		engine.mu.Lock()
		snapshots := make([]roomSnapshot, 0, len(engine.rooms))
		for _, room := range engine.rooms {
			snapshots = append(snapshots, buildRoomSnapshot(room))
		}
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, map[string]any{"rooms": snapshots})
	}
}

func testCreateRoom(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			RoomCode string `json:"roomCode"`
		}
		_ = readJSONBody(r, &req)

		engine.mu.Lock()
		room := engine.getOrCreateRoom(req.RoomCode)
		room.ensureStage()
		snapshot := buildRoomSnapshot(room)
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusCreated, snapshot)
	}
}

func testGetRoom(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		engine.mu.Lock()
		room, ok := engine.rooms[p.ByName("roomCode")]
		var snapshot roomSnapshot
		if ok {
			snapshot = buildRoomSnapshot(room)
		}
		engine.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, snapshot)
	}
}

func testDeleteRoom(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		engine.mu.Lock()
		deleted := engine.deleteRoom(p.ByName("roomCode"))
		engine.mu.Unlock()

		if !deleted {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func testUpsertPlayer(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req testPlayerRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		engine.mu.Lock()
		room := engine.getOrCreateRoom(p.ByName("roomCode"))
		room.addOrUpdatePlayer(req.PlayerID, req.AvatarID, req.Ready, sanitizeName(req.Name), "")
		room.ensureHost(req.PlayerID)
		room.ensureStage()
		engine.touchRoom(room)
		engine.broadcastRoster(room)
		snapshot := buildRoomSnapshot(room)
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, snapshot)
	}
}

func testRemovePlayer(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		engine.mu.Lock()
		room, ok := engine.rooms[p.ByName("roomCode")]
		removed := false
		if ok {
			removed = room.removePlayer(p.ByName("playerId"))
			if removed {
				engine.touchRoom(room)
				engine.broadcastRoster(room)
			}
		}
		engine.mu.Unlock()

		if !ok || !removed {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "player not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// testSetStage forces a stage transition from outside the protocol. force
// skips the minimum-player check so fixtures can walk a room through the
// whole lifecycle without a full roster.
func testSetStage(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req testStageRequest
		if !readJSONBody(r, &req) || !allowedPhases[req.Phase] {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid stage"})
			return
		}

		engine.mu.Lock()
		room, ok := engine.rooms[p.ByName("roomCode")]
		if ok {
			if req.Phase == phaseRound && !req.Force && room.playerCount() < cfg.minRoomPlayers {
				engine.mu.Unlock()
				writeJSON(cfg, w, http.StatusConflict, map[string]string{"error": "not enough players"})
				return
			}
			if req.Phase == phaseRound && req.RoundStartAt == nil {
				start := time.Now().UnixMilli()
				req.RoundStartAt = &start
			}
			room.setStage(req.stagePayload)
			engine.touchRoom(room)
			engine.broadcastStage(room)
		}
		engine.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func testSetLock(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req lockRequest
		if !readJSONBody(r, &req) {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		engine.mu.Lock()
		room, ok := engine.rooms[p.ByName("roomCode")]
		if ok {
			room.Locked = req.Locked
			engine.touchRoom(room)
		}
		engine.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func testSetQuestion(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req questionRequest
		if !readJSONBody(r, &req) || req.DurationMs < 1 {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		engine.mu.Lock()
		room, ok := engine.rooms[p.ByName("roomCode")]
		if ok {
			index := room.CurrentQuestionIndex
			if req.QuestionIndex != nil {
				index = *req.QuestionIndex
			}
			room.recordQuestion(index, questionInfo{CorrectIndex: req.CorrectIndex, DurationMs: req.DurationMs})
			engine.touchRoom(room)
		}
		engine.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// testSubmitAnswer scores an answer for a fixture player. Unlike the wire
// path it takes latency and multiplier verbatim, bypassing rate limits and
// cooldowns; the idempotency gate still applies.
func testSubmitAnswer(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req testAnswerRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if req.Multiplier <= 0 {
			req.Multiplier = 1
		}

		engine.mu.Lock()
		defer engine.mu.Unlock()

		room, ok := engine.rooms[p.ByName("roomCode")]
		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		player := room.player(req.PlayerID)
		if player == nil {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "player not found"})
			return
		}

		index := room.CurrentQuestionIndex
		if req.QuestionIndex != nil {
			index = *req.QuestionIndex
		}
		if !room.markAnswered(index, req.PlayerID) {
			writeJSON(cfg, w, http.StatusConflict, map[string]string{"error": "already answered"})
			return
		}

		info, known := room.questionsByIndex[index]
		if !known {
			// Mark taken, nothing to score; the player is left untouched.
			engine.touchRoom(room)
			writeJSON(cfg, w, http.StatusOK, map[string]any{
				"correct": false,
				"points":  0,
				"score":   player.Score,
			})
			return
		}
		correct := req.AnswerIndex == info.CorrectIndex
		outcome := score(correct, req.LatencyMs, info.DurationMs, req.Multiplier)

		player.Score += outcome.points
		player.CorrectCount += outcome.correctIncrement
		if outcome.streakDelta < 0 {
			player.Streak = 0
		} else {
			player.Streak += outcome.streakDelta
		}

		engine.touchRoom(room)
		engine.metrics.AnswerAccepted++
		engine.broadcast(room.Code, "score", buildScorePayload(room))

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"correct": correct,
			"points":  outcome.points,
			"score":   player.Score,
		})
	}
}

func testBroadcast(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req testBroadcastRequest
		if !readJSONBody(r, &req) || req.Type == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		var payload any
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &payload); err != nil {
				writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
				return
			}
		}

		engine.mu.Lock()
		_, ok := engine.rooms[p.ByName("roomCode")]
		if ok {
			engine.broadcast(p.ByName("roomCode"), req.Type, payload)
		}
		engine.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// testReset drops every room, counter, bucket and incident. Sessions stay
// connected but lose their room bindings.
func testReset(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		engine.mu.Lock()
		engine.rooms = make(map[string]*Room)
		engine.limits = newLimiter()
		engine.cooldowns = make(map[string]time.Time)
		engine.incidents = nil
		engine.metrics = Metrics{}
		for _, sess := range engine.sessions {
			sess.joinedRoom = ""
			sess.playerID = ""
		}
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func testListIncidents(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		engine.mu.Lock()
		incidents := make([]Incident, len(engine.incidents))
		copy(incidents, engine.incidents)
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, map[string]any{"incidents": incidents})
	}
}
