package main

import "sort"

type rosterEntry struct {
	ID       string `json:"id"`
	AvatarID string `json:"avatarId"`
	Name     string `json:"name,omitempty"`
	Ready    bool   `json:"ready"`
	IsHost   bool   `json:"isHost"`
}

type rosterPayload struct {
	RoomCode string        `json:"roomCode"`
	HostID   string        `json:"hostId"`
	Locked   bool          `json:"locked"`
	Players  []rosterEntry `json:"players"`
}

type scoreEntry struct {
	Rank         int    `json:"rank"`
	ID           string `json:"id"`
	AvatarID     string `json:"avatarId"`
	Name         string `json:"name,omitempty"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	Streak       int    `json:"streak"`
}

type scorePayload struct {
	RoomCode      string       `json:"roomCode"`
	Mode          string       `json:"mode"`
	QuestionIndex int          `json:"questionIndex"`
	Leaderboard   []scoreEntry `json:"leaderboardTop5"`
	Podium        []scoreEntry `json:"podiumTop3"`
	Players       []scoreEntry `json:"players"`
}

type roomSnapshot struct {
	RoomCode             string        `json:"roomCode"`
	HostID               string        `json:"hostId"`
	Locked               bool          `json:"locked"`
	Stage                *stagePayload `json:"stage,omitempty"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	Players              []rosterEntry `json:"players"`
	ExpiresAt            int64         `json:"expiresAt"`
}

// buildRosterPayload lists players in join order; standings never reorder
// the roster view.
func buildRosterPayload(room *Room) rosterPayload {
	players := make([]rosterEntry, 0, room.playerCount())
	for _, p := range room.playerList() {
		players = append(players, rosterEntry{
			ID:       p.ID,
			AvatarID: p.AvatarID,
			Name:     p.Name,
			Ready:    p.Ready,
			IsHost:   p.ID == room.HostID,
		})
	}

	return rosterPayload{
		RoomCode: room.Code,
		HostID:   room.HostID,
		Locked:   room.Locked,
		Players:  players,
	}
}

// buildScorePayload ranks players by score, breaking ties on correct answer
// count. Ties after both keys keep join order, which sort.SliceStable
// preserves. Ranks are dense from 1.
func buildScorePayload(room *Room) scorePayload {
	ranked := make([]scoreEntry, 0, room.playerCount())
	for _, p := range room.playerList() {
		ranked = append(ranked, scoreEntry{
			ID:           p.ID,
			AvatarID:     p.AvatarID,
			Name:         p.Name,
			Score:        p.Score,
			CorrectCount: p.CorrectCount,
			Streak:       p.Streak,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].CorrectCount > ranked[j].CorrectCount
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	top := func(n int) []scoreEntry {
		if len(ranked) < n {
			n = len(ranked)
		}
		out := make([]scoreEntry, n)
		copy(out, ranked[:n])
		return out
	}

	return scorePayload{
		RoomCode:      room.Code,
		Mode:          "speed",
		QuestionIndex: room.CurrentQuestionIndex,
		Leaderboard:   top(5),
		Podium:        top(3),
		Players:       ranked,
	}
}

func buildRoomSnapshot(room *Room) roomSnapshot {
	roster := buildRosterPayload(room)

	return roomSnapshot{
		RoomCode:             room.Code,
		HostID:               room.HostID,
		Locked:               room.Locked,
		Stage:                room.Stage,
		CurrentQuestionIndex: room.CurrentQuestionIndex,
		Players:              roster.Players,
		ExpiresAt:            room.ExpiresAt.UnixMilli(),
	}
}
