package main

import (
	"crypto/rand"
	"math/big"
	"time"
)

type roomPhase string

const (
	phaseJoin        roomPhase = "join"
	phaseLobby       roomPhase = "lobby"
	phaseRound       roomPhase = "round"
	phaseReveal      roomPhase = "reveal"
	phaseLeaderboard roomPhase = "leaderboard"
	phaseEnd         roomPhase = "end"
)

var allowedPhases = map[roomPhase]bool{
	phaseJoin:        true,
	phaseLobby:       true,
	phaseRound:       true,
	phaseReveal:      true,
	phaseLeaderboard: true,
	phaseEnd:         true,
}

type stagePayload struct {
	RoomCode      string    `json:"roomCode"`
	Phase         roomPhase `json:"phase"`
	QuestionIndex *int      `json:"questionIndex,omitempty"`
	RoundStartAt  *int64    `json:"roundStartAt,omitempty"`
}

type questionInfo struct {
	CorrectIndex int   `json:"correctIndex"`
	DurationMs   int64 `json:"durationMs"`
}

type Player struct {
	ID           string `json:"id"`
	AvatarID     string `json:"avatarId"`
	Name         string `json:"name,omitempty"`
	Ready        bool   `json:"ready"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	Streak       int    `json:"streak"`

	connectionID string
	lastAnswerAt time.Time
}

// Room holds one quiz session. All fields are guarded by the engine lock;
// players keeps join order alongside the map because roster views and host
// reassignment are insertion-ordered.
type Room struct {
	Code                 string
	CreatedAt            time.Time
	ExpiresAt            time.Time
	Locked               bool
	HostID               string
	Stage                *stagePayload
	CurrentQuestionIndex int

	players          map[string]*Player
	order            []string
	questionsByIndex map[int]questionInfo
	answeredByIndex  map[int]map[string]bool
}

func newRoom(code string, now time.Time, ttl time.Duration) *Room {
	return &Room{
		Code:             code,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		players:          make(map[string]*Player),
		questionsByIndex: make(map[int]questionInfo),
		answeredByIndex:  make(map[int]map[string]bool),
	}
}

func (r *Room) player(id string) *Player {
	return r.players[id]
}

func (r *Room) playerCount() int {
	return len(r.players)
}

// playerList returns players in join order.
func (r *Room) playerList() []*Player {
	list := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.players[id]; ok {
			list = append(list, p)
		}
	}
	return list
}

func (r *Room) firstPlayerID() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// addOrUpdatePlayer upserts idempotently: an existing player keeps score,
// correctCount and streak; a new one starts all three at zero.
func (r *Room) addOrUpdatePlayer(id, avatarID string, ready bool, name, connectionID string) {
	if existing, ok := r.players[id]; ok {
		existing.AvatarID = avatarID
		existing.Ready = ready
		if name != "" {
			existing.Name = name
		}
		if connectionID != "" {
			existing.connectionID = connectionID
		}
		return
	}

	r.players[id] = &Player{
		ID:           id,
		AvatarID:     avatarID,
		Name:         name,
		Ready:        ready,
		connectionID: connectionID,
	}
	r.order = append(r.order, id)
}

// removePlayer deletes the player and, if it was the host, hands the room to
// the first remaining player in join order (or clears hostId when empty).
func (r *Room) removePlayer(id string) bool {
	if _, ok := r.players[id]; !ok {
		return false
	}

	delete(r.players, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.HostID == id {
		r.HostID = r.firstPlayerID()
	}

	return true
}

// ensureHost claims the host slot for fallback when it is unset or points at
// a player who has left. Reports whether the host changed.
func (r *Room) ensureHost(fallback string) bool {
	if r.HostID != "" && r.players[r.HostID] != nil {
		return false
	}
	if fallback != "" {
		r.HostID = fallback
	} else {
		r.HostID = r.firstPlayerID()
	}
	return true
}

// ensureStage lazily initializes the lobby stage on first use.
func (r *Room) ensureStage() {
	if r.Stage == nil {
		index := 0
		r.Stage = &stagePayload{RoomCode: r.Code, Phase: phaseLobby, QuestionIndex: &index}
		r.CurrentQuestionIndex = index
	}
}

// setStage replaces the current stage wholesale, tracking the question index
// when the payload carries one.
func (r *Room) setStage(next stagePayload) {
	next.RoomCode = r.Code
	r.Stage = &next
	if next.QuestionIndex != nil {
		r.CurrentQuestionIndex = *next.QuestionIndex
	}
	r.ensureStage()
}

func (r *Room) recordQuestion(index int, info questionInfo) {
	r.questionsByIndex[index] = info
	r.CurrentQuestionIndex = index
}

// markAnswered is the idempotency gate: it reports false when this player
// has already been recorded for the index, regardless of which connection
// the duplicate arrived on.
func (r *Room) markAnswered(index int, playerID string) bool {
	answered, ok := r.answeredByIndex[index]
	if !ok {
		answered = make(map[string]bool)
		r.answeredByIndex[index] = answered
	}
	if answered[playerID] {
		return false
	}
	answered[playerID] = true
	return true
}

func (r *Room) hasAnswered(index int, playerID string) bool {
	return r.answeredByIndex[index][playerID]
}

// currentConnection reports whether connectionID may act for playerID. An
// empty id on either side is treated as a match so the test-control path,
// which has no connection, passes through.
func (r *Room) currentConnection(playerID, connectionID string) bool {
	player := r.players[playerID]
	if player == nil {
		return false
	}
	if connectionID == "" || player.connectionID == "" {
		return true
	}
	return player.connectionID == connectionID
}

// roomCodeAlphabet omits easily-confused characters (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomRoomCode() string {
	length := 4 + randInt(3)
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	for i := range buf {
		buf[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
	}
	return string(buf)
}

func randInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
