/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"

	json "github.com/goccy/go-json"
)

type joinRequest struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
	AvatarID string `json:"avatarId"`
	Name     string `json:"name"`
}

type joinedPayload struct {
	RoomCode string        `json:"roomCode"`
	IsHost   bool          `json:"isHost"`
	Stage    *stagePayload `json:"stage,omitempty"`
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

type avatarRequest struct {
	AvatarID string `json:"avatarId"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

type questionRequest struct {
	RoomCode      string `json:"roomCode"`
	QuestionIndex *int   `json:"questionIndex"`
	CorrectIndex  int    `json:"correct_index"`
	DurationMs    int64  `json:"duration_ms"`
}

type answerRequest struct {
	RoomCode      string `json:"roomCode"`
	PlayerID      string `json:"playerId"`
	AnswerIndex   int    `json:"answerIndex"`
	QuestionIndex *int   `json:"questionIndex"`
	LatencyMs     *int64 `json:"latencyMs"`
}

type answerEcho struct {
	RoomCode    string `json:"roomCode"`
	PlayerID    string `json:"playerId"`
	AnswerIndex int    `json:"answerIndex"`
	Correct     bool   `json:"correct"`
	Points      int    `json:"points"`
}

// withLock runs fn under the engine lock with panic recovery, so a bad frame
// can never take the process down, whether it arrives synchronously or
// through a deferral timer.
func (e *Engine) withLock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if err := recover(); err != nil {
			logf(e.cfg, "WS: Recovered from handler panic: %v", err)
		}
	}()

	fn()
}

// handleMessage is the single entry point for every inbound frame. It takes
// the engine lock, applies the per-ip message limit, then dispatches on the
// envelope type. A soft-limited frame is re-queued via a timer rather than
// blocking the lock.
func (e *Engine) handleMessage(w wire, raw []byte) {
	e.withLock(func() {
		sess, ok := e.sessions[w]
		if !ok {
			return
		}

		result := e.limits.check("msg:"+sess.ip, e.cfg.msgLimit, time.Now())
		if !result.allowed {
			e.logIncident(Incident{Type: incidentRateLimit, IP: sess.ip, Detail: "msg"})
			return
		}
		if result.delay > 0 {
			time.AfterFunc(result.delay, func() {
				e.withLock(func() {
					if _, alive := e.sessions[w]; !alive {
						return
					}
					e.dispatch(w, raw)
				})
			})
			return
		}

		e.dispatch(w, raw)
	})
}

// dispatch expects the engine lock to be held.
func (e *Engine) dispatch(w wire, raw []byte) {
	sess, ok := e.sessions[w]
	if !ok {
		return
	}

	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.logIncident(Incident{Type: incidentInvalidPayload, IP: sess.ip, Detail: "parse"})
		e.sendError(w, "Invalid message")
		return
	}

	switch msg.Type {
	case "join":
		e.handleJoin(w, sess, msg.Payload, 0)
	case "leave":
		e.handleLeave(w, sess)
	case "stage":
		e.handleStage(w, sess, msg.Payload)
	case "ready":
		e.handleReady(w, sess, msg.Payload)
	case "avatar":
		e.handleAvatar(w, sess, msg.Payload)
	case "name":
		e.handleName(w, sess, msg.Payload)
	case "lock":
		e.handleLock(w, sess, msg.Payload)
	case "question":
		e.handleQuestion(w, sess, msg.Payload)
	case "answer":
		e.handleAnswer(w, sess, msg.Payload)
	default:
		logf(e.cfg, "WS: Ignoring unknown message type %q from %s", msg.Type, sess.ip)
	}
}

// handleJoin expects the engine lock to be held. attempt > 0 marks a deferred
// retry scheduled after a soft limit hit; every condition is re-checked from
// scratch on re-entry, since the world may have changed while waiting.
func (e *Engine) handleJoin(w wire, sess *session, raw json.RawMessage, attempt int) {
	if !e.validator.validate(schemaJoin, raw) {
		e.logIncident(Incident{Type: incidentInvalidPayload, IP: sess.ip, Detail: "join"})
		e.sendError(w, "Invalid join payload")
		e.metrics.JoinFail++
		return
	}

	var req joinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		e.metrics.JoinFail++
		return
	}
	req.Name = sanitizeName(req.Name)

	// A deferred retry was already counted against the address on first
	// entry; re-checking here would stack delays forever.
	if attempt == 0 {
		result := e.limits.check("join:ip:"+sess.ip, e.cfg.joinIPLimit, time.Now())
		switch {
		case !result.allowed:
			e.logIncident(Incident{Type: incidentRateLimit, IP: sess.ip, RoomCode: req.RoomCode, Detail: "join:ip"})
			e.sendError(w, "Too many join attempts")
			e.metrics.JoinFail++
			return
		case result.delay > 0:
			e.scheduleJoin(w, raw, req.RoomCode, result.delay, attempt+1)
			return
		}
	}

	// A retry only ever targets the room the original attempt saw. If that
	// room expired while the join was parked, abandon silently.
	if attempt > 0 && req.RoomCode != "" {
		if _, exists := e.rooms[req.RoomCode]; !exists {
			return
		}
	}

	room := e.getOrCreateRoom(req.RoomCode)
	rejoining := room.player(req.PlayerID) != nil

	burst := e.limits.check("join:room:"+room.Code, e.cfg.joinRoomLimit, time.Now())
	if !burst.allowed {
		e.logIncident(Incident{Type: incidentJoinBurst, IP: sess.ip, RoomCode: room.Code, Detail: "join:room"})
		e.sendError(w, "Room is receiving too many joins")
		e.metrics.JoinFail++
		return
	}
	if burst.delay > 0 && attempt == 0 {
		e.scheduleJoin(w, raw, room.Code, burst.delay, attempt+1)
		return
	}

	if room.Locked && !rejoining {
		e.logIncident(Incident{Type: incidentRoomLocked, IP: sess.ip, RoomCode: room.Code, PlayerID: req.PlayerID})
		e.sendError(w, "Room is locked")
		e.metrics.JoinFail++
		return
	}

	if !rejoining && room.playerCount() >= e.cfg.maxRoomPlayers {
		e.logIncident(Incident{Type: incidentRoomFull, IP: sess.ip, RoomCode: room.Code, PlayerID: req.PlayerID})
		e.sendError(w, "Room is full")
		e.metrics.JoinFail++
		return
	}

	room.addOrUpdatePlayer(req.PlayerID, req.AvatarID, false, req.Name, sess.connectionID)
	room.ensureHost(req.PlayerID)
	room.ensureStage()

	sess.joinedRoom = room.Code
	sess.playerID = req.PlayerID

	e.touchRoom(room)
	e.metrics.JoinSuccess++
	logf(e.cfg, "ROOMS: %s joined %s (%d players)", req.PlayerID, room.Code, room.playerCount())

	e.sendTo(w, "joined", joinedPayload{
		RoomCode: room.Code,
		IsHost:   room.HostID == req.PlayerID,
		Stage:    room.Stage,
	})
	e.broadcastRoster(room)
}

func (e *Engine) scheduleJoin(w wire, raw json.RawMessage, roomCode string, delay time.Duration, attempt int) {
	logf(e.cfg, "RATE: Deferring join to %q by %s (attempt %d)", roomCode, delay, attempt)

	time.AfterFunc(delay, func() {
		e.withLock(func() {
			sess, alive := e.sessions[w]
			if !alive {
				return
			}
			e.handleJoin(w, sess, raw, attempt)
		})
	})
}

func (e *Engine) handleLeave(w wire, sess *session) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}

	if room.removePlayer(player.ID) {
		e.touchRoom(room)
		e.broadcastRoster(room)
	}

	sess.joinedRoom = ""
	sess.playerID = ""
	e.sendTo(w, "left", map[string]string{"roomCode": room.Code})
}

func (e *Engine) handleStage(w wire, sess *session, raw json.RawMessage) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}
	if room.HostID != player.ID {
		e.sendError(w, "Only the host can change the stage")
		return
	}

	var next stagePayload
	if err := json.Unmarshal(raw, &next); err != nil || !allowedPhases[next.Phase] {
		e.logIncident(Incident{Type: incidentInvalidPayload, IP: sess.ip, RoomCode: room.Code, Detail: "stage"})
		e.sendError(w, "Invalid stage payload")
		return
	}

	if next.Phase == phaseRound && room.playerCount() < e.cfg.minRoomPlayers {
		e.sendError(w, "Not enough players to start a round")
		return
	}

	if next.Phase == phaseRound && next.RoundStartAt == nil {
		start := time.Now().UnixMilli()
		next.RoundStartAt = &start
	}

	room.setStage(next)
	e.touchRoom(room)
	e.broadcastStage(room)
}

func (e *Engine) handleReady(w wire, sess *session, raw json.RawMessage) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}

	var req readyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		e.sendError(w, "Invalid ready payload")
		return
	}

	player.Ready = req.Ready
	e.touchRoom(room)
	e.broadcastRoster(room)
}

func (e *Engine) handleAvatar(w wire, sess *session, raw json.RawMessage) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}

	var req avatarRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.AvatarID == "" {
		e.sendError(w, "Invalid avatar payload")
		return
	}

	player.AvatarID = req.AvatarID
	e.touchRoom(room)
	e.broadcastRoster(room)
}

func (e *Engine) handleName(w wire, sess *session, raw json.RawMessage) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}

	var req nameRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		e.sendError(w, "Invalid name payload")
		return
	}

	player.Name = sanitizeName(req.Name)
	e.touchRoom(room)
	e.broadcastRoster(room)
}

func (e *Engine) handleLock(w wire, sess *session, raw json.RawMessage) {
	room, player := e.boundPlayer(sess)
	if room == nil {
		return
	}
	if room.HostID != player.ID {
		e.sendError(w, "Only the host can lock the room")
		return
	}

	var req lockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		e.sendError(w, "Invalid lock payload")
		return
	}

	room.Locked = req.Locked
	e.touchRoom(room)
	e.broadcast(room.Code, "lock", map[string]any{"roomCode": room.Code, "locked": room.Locked})
}

func (e *Engine) handleQuestion(w wire, sess *session, raw json.RawMessage) {
	room, _ := e.boundPlayer(sess)
	if room == nil {
		return
	}

	if !e.validator.validate(schemaQuestion, raw) {
		e.logIncident(Incident{Type: incidentInvalidPayload, IP: sess.ip, RoomCode: room.Code, Detail: "question"})
		e.sendError(w, "Invalid question payload")
		return
	}

	var req questionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	index := room.CurrentQuestionIndex
	if req.QuestionIndex != nil {
		index = *req.QuestionIndex
	}
	duration := req.DurationMs
	if duration < 1 {
		duration = defaultRoundMs
	}

	room.recordQuestion(index, questionInfo{CorrectIndex: req.CorrectIndex, DurationMs: duration})
	e.touchRoom(room)

	// Echo the raw payload so option text and media survive untouched.
	var echo any
	if err := json.Unmarshal(raw, &echo); err == nil {
		e.broadcast(room.Code, "question", echo)
	}
}

func (e *Engine) handleAnswer(w wire, sess *session, raw json.RawMessage) {
	if !e.validator.validate(schemaAnswer, raw) {
		e.logIncident(Incident{Type: incidentInvalidPayload, IP: sess.ip, Detail: "answer"})
		e.sendError(w, "Invalid answer payload")
		e.metrics.AnswerRejected++
		return
	}

	var req answerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		e.metrics.AnswerRejected++
		return
	}

	room, ok := e.rooms[req.RoomCode]
	if !ok {
		e.sendError(w, "Unknown room")
		e.metrics.AnswerRejected++
		return
	}
	player := room.player(req.PlayerID)
	if player == nil {
		e.sendError(w, "Unknown player")
		e.metrics.AnswerRejected++
		return
	}
	if !room.currentConnection(req.PlayerID, sess.connectionID) {
		e.metrics.AnswerRejected++
		return
	}

	now := time.Now()

	result := e.limits.check("answer:"+req.PlayerID, e.cfg.answerLimit, now)
	if !result.allowed {
		e.logIncident(Incident{Type: incidentRateLimit, IP: sess.ip, RoomCode: room.Code, PlayerID: req.PlayerID, Detail: "answer"})
		e.metrics.AnswerRejected++
		return
	}

	// Cooldown is scoped per room so one player racing two rooms does not
	// share a single timer.
	cooldownKey := room.Code + ":" + req.PlayerID
	if last, seen := e.cooldowns[cooldownKey]; seen && now.Sub(last) < e.cfg.answerCooldown {
		e.logIncident(Incident{Type: incidentSpamDrop, IP: sess.ip, RoomCode: room.Code, PlayerID: req.PlayerID})
		e.metrics.AnswerRejected++
		return
	}
	e.cooldowns[cooldownKey] = now

	// A late answer may still target the prior question explicitly.
	index := room.CurrentQuestionIndex
	if req.QuestionIndex != nil {
		index = *req.QuestionIndex
	}
	if !room.markAnswered(index, req.PlayerID) {
		e.metrics.AnswerRejected++
		return
	}

	info, known := room.questionsByIndex[index]
	if !known {
		// The mark stands, but without question metadata there is nothing
		// to score; the player's tallies stay untouched.
		e.touchRoom(room)
		e.metrics.AnswerAccepted++
		e.broadcast(room.Code, "answer", answerEcho{
			RoomCode:    room.Code,
			PlayerID:    req.PlayerID,
			AnswerIndex: req.AnswerIndex,
		})
		return
	}

	var latency int64
	switch {
	case req.LatencyMs != nil:
		latency = *req.LatencyMs
	case room.Stage != nil && room.Stage.RoundStartAt != nil:
		latency = now.UnixMilli() - *room.Stage.RoundStartAt
	}

	correct := req.AnswerIndex == info.CorrectIndex
	outcome := score(correct, latency, info.DurationMs, 1)

	player.Score += outcome.points
	player.CorrectCount += outcome.correctIncrement
	if outcome.streakDelta < 0 {
		player.Streak = 0
	} else {
		player.Streak += outcome.streakDelta
	}
	player.lastAnswerAt = now

	e.touchRoom(room)
	e.metrics.AnswerAccepted++
	logf(e.cfg, "SCORE: %s answered q%d in %s: %d points", req.PlayerID, index, room.Code, outcome.points)

	e.broadcast(room.Code, "score", buildScorePayload(room))
	e.broadcast(room.Code, "answer", answerEcho{
		RoomCode:    room.Code,
		PlayerID:    req.PlayerID,
		AnswerIndex: req.AnswerIndex,
		Correct:     correct,
		Points:      outcome.points,
	})
}

// boundPlayer resolves the session's room and player, or (nil, nil) when the
// session never joined anything that still exists.
func (e *Engine) boundPlayer(sess *session) (*Room, *Player) {
	if sess.joinedRoom == "" || sess.playerID == "" {
		return nil, nil
	}
	room, ok := e.rooms[sess.joinedRoom]
	if !ok {
		return nil, nil
	}
	player := room.player(sess.playerID)
	if player == nil {
		return nil, nil
	}
	return room, player
}
