package main

import (
	"log"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// wire is the transport-side handle the engine delivers outbound frames to.
// The websocket client implements it; tests substitute a recorder. deliver
// must not block: a false return means the frame was dropped.
type wire interface {
	deliver(payload []byte) bool
}

// session is the ephemeral connection-to-room binding. It exists only while
// the connection is open; losing the connection removes the bound player
// from the room but never touches any other room state.
type session struct {
	ip           string
	joinedRoom   string
	playerID     string
	connectionID string
}

type incidentType string

const (
	incidentRateLimit      incidentType = "rate_limit"
	incidentSpamDrop       incidentType = "spam_drop"
	incidentRoomLocked     incidentType = "room_locked"
	incidentRoomFull       incidentType = "room_full"
	incidentJoinBurst      incidentType = "join_burst"
	incidentInvalidPayload incidentType = "invalid_payload"
)

type Incident struct {
	At       int64        `json:"at"`
	Type     incidentType `json:"type"`
	IP       string       `json:"ip,omitempty"`
	RoomCode string       `json:"roomCode,omitempty"`
	PlayerID string       `json:"playerId,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}

// Metrics are process-lifetime monotonic counters, reset only by restart.
type Metrics struct {
	WsConnections  int64 `json:"wsConnections"`
	WsDisconnects  int64 `json:"wsDisconnects"`
	JoinSuccess    int64 `json:"joinSuccess"`
	JoinFail       int64 `json:"joinFail"`
	AnswerAccepted int64 `json:"answerAccepted"`
	AnswerRejected int64 `json:"answerRejected"`
	RoomsCreated   int64 `json:"roomsCreated"`
	RoomsExpired   int64 `json:"roomsExpired"`
	Incidents      int64 `json:"incidents"`
}

type complianceEvent struct {
	At       int64 `json:"at"`
	Accepted bool  `json:"accepted"`
}

type analyticsEvent struct {
	At        int64  `json:"at"`
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Meta      any    `json:"meta,omitempty"`
}

// Engine owns every mutable registry of the session server: the room map,
// the connection/session table, rate buckets, cooldowns, incidents and
// metrics. One mutex serializes all message handling, matching the
// single-writer execution model; nothing outside the engine mutates a Room.
type Engine struct {
	cfg       *Config
	validator *validator

	mu         sync.Mutex
	rooms      map[string]*Room
	sessions   map[wire]*session
	limits     *limiter
	cooldowns  map[string]time.Time
	incidents  []Incident
	compliance []complianceEvent
	analytics  []analyticsEvent
	metrics    Metrics
	startedAt  time.Time
}

func newEngine(cfg *Config) (*Engine, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		validator: v,
		rooms:     make(map[string]*Room),
		sessions:  make(map[wire]*session),
		limits:    newLimiter(),
		cooldowns: make(map[string]time.Time),
		startedAt: time.Now(),
	}, nil
}

// connect registers a fresh session for w. Called by the transport on
// upgrade, before any message is processed.
func (e *Engine) connect(w wire, ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions[w] = &session{ip: ip}
	e.metrics.WsConnections++
	logf(e.cfg, "WS: Connect from %s", ip)
}

// bindConnection tags the session with a connection id so a later reconnect
// by the same player can supersede this one.
func (e *Engine) bindConnection(w wire, connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sess, ok := e.sessions[w]; ok {
		sess.connectionID = connectionID
	}
}

// disconnect tears down the session and removes the bound player from their
// room, reassigning the host if needed. A stale connection (the player has
// since rebound elsewhere) leaves the room untouched.
func (e *Engine) disconnect(w wire) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[w]
	if !ok {
		return
	}
	delete(e.sessions, w)
	e.metrics.WsDisconnects++
	logf(e.cfg, "WS: Disconnect from %s", sess.ip)

	if sess.joinedRoom == "" || sess.playerID == "" {
		return
	}
	room, ok := e.rooms[sess.joinedRoom]
	if !ok {
		return
	}
	if !room.currentConnection(sess.playerID, sess.connectionID) {
		return
	}
	if room.removePlayer(sess.playerID) {
		e.touchRoom(room)
		e.broadcastRoster(room)
	}
}

func (e *Engine) logIncident(incident Incident) {
	incident.At = time.Now().UnixMilli()
	e.incidents = append(e.incidents, incident)
	e.metrics.Incidents++
	if len(e.incidents) > e.cfg.incidentLimit {
		e.incidents = e.incidents[len(e.incidents)-e.cfg.incidentLimit:]
	}

	raw, err := json.Marshal(incident)
	if err != nil {
		return
	}
	log.Printf("%s | INCIDENT: %s", time.Now().Format(logDate), raw)
}

// getOrCreateRoom returns the room for code, creating it (or one with a
// fresh collision-checked code when code is empty) on demand.
func (e *Engine) getOrCreateRoom(code string) *Room {
	if code != "" {
		if room, ok := e.rooms[code]; ok {
			return room
		}
	} else {
		code = randomRoomCode()
		for i := 0; i < 5; i++ {
			if _, exists := e.rooms[code]; !exists {
				break
			}
			code = randomRoomCode()
		}
	}

	room := newRoom(code, time.Now(), e.cfg.roomTTL)
	e.rooms[code] = room
	e.metrics.RoomsCreated++
	logf(e.cfg, "ROOMS: Created %s", code)

	return room
}

// touchRoom pushes the expiry forward. Every room-mutating operation calls
// it; activity is the only thing keeping a room alive.
func (e *Engine) touchRoom(room *Room) {
	room.ExpiresAt = time.Now().Add(e.cfg.roomTTL)
}

func (e *Engine) deleteRoom(code string) bool {
	if _, ok := e.rooms[code]; !ok {
		return false
	}
	delete(e.rooms, code)
	return true
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorDetail struct {
	Message string `json:"message"`
}

type errorMessage struct {
	Type   string        `json:"type"`
	Errors []errorDetail `json:"errors"`
}

func (e *Engine) sendTo(w wire, msgType string, payload any) {
	raw, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	w.deliver(raw)
}

func (e *Engine) sendError(w wire, messages ...string) {
	details := make([]errorDetail, 0, len(messages))
	for _, message := range messages {
		details = append(details, errorDetail{Message: message})
	}
	raw, err := json.Marshal(errorMessage{Type: "error", Errors: details})
	if err != nil {
		return
	}
	w.deliver(raw)
}

// broadcast fans a message out to every connection bound to roomCode.
// Delivery is best-effort: closed or backed-up connections are skipped.
func (e *Engine) broadcast(roomCode, msgType string, payload any) {
	raw, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	for w, sess := range e.sessions {
		if sess.joinedRoom != roomCode {
			continue
		}
		w.deliver(raw)
	}
}

func (e *Engine) broadcastRoster(room *Room) {
	e.broadcast(room.Code, "roster", buildRosterPayload(room))
}

func (e *Engine) broadcastStage(room *Room) {
	e.broadcast(room.Code, "stage", room.Stage)
}
