/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	maxNameLength  = 18
	maxCrewMembers = 24

	titleCaptain   = "Captain"
	titleScoreBoss = "Score Boss"
	titleSharpEye  = "Sharp Eye"
)

// sanitizeName trims, clamps and defaults display names. Applied to every
// user-supplied name before it is stored or broadcast.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Player"
	}
	runes := []rune(name)
	if len(runes) > maxNameLength {
		return string(runes[:maxNameLength])
	}
	return name
}

func normalizeCrewCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	var b strings.Builder
	for _, r := range code {
		if strings.ContainsRune(roomCodeAlphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type crewMember struct {
	PlayerID     string `json:"playerId"`
	Name         string `json:"name"`
	WeeklyScore  int    `json:"weeklyScore"`
	SeasonScore  int    `json:"seasonScore"`
	CorrectCount int    `json:"correctCount"`
	Title        string `json:"title,omitempty"`
}

type crew struct {
	Code      string `json:"crewCode"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	CaptainID string `json:"captainId"`

	members map[string]*crewMember
	order   []string
}

func (c *crew) memberList() []*crewMember {
	list := make([]*crewMember, 0, len(c.order))
	for _, id := range c.order {
		if m, ok := c.members[id]; ok {
			list = append(list, m)
		}
	}
	return list
}

// recomputeTitles reassigns vanity titles after any score or roster change.
// The captain always keeps theirs; the other titles go to the current
// season-score and correct-count leaders.
func (c *crew) recomputeTitles() {
	var scoreBoss, sharpEye *crewMember
	for _, m := range c.memberList() {
		m.Title = ""
		if scoreBoss == nil || m.SeasonScore > scoreBoss.SeasonScore {
			scoreBoss = m
		}
		if sharpEye == nil || m.CorrectCount > sharpEye.CorrectCount {
			sharpEye = m
		}
	}

	if scoreBoss != nil && scoreBoss.SeasonScore > 0 {
		scoreBoss.Title = titleScoreBoss
	}
	if sharpEye != nil && sharpEye.CorrectCount > 0 && sharpEye.Title == "" {
		sharpEye.Title = titleSharpEye
	}
	if captain, ok := c.members[c.CaptainID]; ok {
		captain.Title = titleCaptain
	}
}

type crewView struct {
	Code      string       `json:"crewCode"`
	Name      string       `json:"name"`
	CreatedAt int64        `json:"createdAt"`
	CaptainID string       `json:"captainId"`
	Members   []crewMember `json:"members"`
}

// crewRegistry is independent of the room registry: crews outlive rooms and
// have their own lock, so quiz traffic never contends with leaderboard reads.
type crewRegistry struct {
	mu    sync.Mutex
	crews map[string]*crew
}

func newCrewRegistry() *crewRegistry {
	return &crewRegistry{crews: make(map[string]*crew)}
}

func (cr *crewRegistry) view(c *crew) crewView {
	members := make([]crewMember, 0, len(c.order))
	for _, m := range c.memberList() {
		members = append(members, *m)
	}
	return crewView{
		Code:      c.Code,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
		CaptainID: c.CaptainID,
		Members:   members,
	}
}

type crewCreateRequest struct {
	Name       string `json:"name"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type crewJoinRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type crewLeaveRequest struct {
	PlayerID string `json:"playerId"`
}

type crewScoreRequest struct {
	PlayerID     string `json:"playerId"`
	Points       int    `json:"points"`
	CorrectCount int    `json:"correctCount"`
}

func registerCrewRoutes(cfg *Config, crews *crewRegistry, mux *httprouter.Router) {
	mux.POST(cfg.prefix+"/crews", serveCrewCreate(cfg, crews))
	mux.GET(cfg.prefix+"/crews/:crewCode", serveCrewGet(cfg, crews))
	mux.POST(cfg.prefix+"/crews/:crewCode/join", serveCrewJoin(cfg, crews))
	mux.POST(cfg.prefix+"/crews/:crewCode/leave", serveCrewLeave(cfg, crews))
	mux.POST(cfg.prefix+"/crews/:crewCode/score", serveCrewScore(cfg, crews))
	mux.GET(cfg.prefix+"/leaderboard", serveLeaderboard(cfg, crews))
}

func serveCrewCreate(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req crewCreateRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		crews.mu.Lock()
		code := randomRoomCode()
		for i := 0; i < 5; i++ {
			if _, exists := crews.crews[code]; !exists {
				break
			}
			code = randomRoomCode()
		}

		c := &crew{
			Code:      code,
			Name:      sanitizeName(req.Name),
			CreatedAt: time.Now().UnixMilli(),
			CaptainID: req.PlayerID,
			members:   make(map[string]*crewMember),
		}
		c.members[req.PlayerID] = &crewMember{PlayerID: req.PlayerID, Name: sanitizeName(req.PlayerName)}
		c.order = append(c.order, req.PlayerID)
		c.recomputeTitles()
		crews.crews[code] = c
		view := crews.view(c)
		crews.mu.Unlock()

		logf(cfg, "CREWS: Created %s", code)
		writeJSON(cfg, w, http.StatusCreated, view)
	}
}

func serveCrewGet(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		crews.mu.Lock()
		c, ok := crews.crews[normalizeCrewCode(p.ByName("crewCode"))]
		var view crewView
		if ok {
			view = crews.view(c)
		}
		crews.mu.Unlock()

		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "crew not found"})
			return
		}
		writeJSON(cfg, w, http.StatusOK, view)
	}
}

func serveCrewJoin(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req crewJoinRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		crews.mu.Lock()
		defer crews.mu.Unlock()

		c, ok := crews.crews[normalizeCrewCode(p.ByName("crewCode"))]
		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "crew not found"})
			return
		}
		if _, member := c.members[req.PlayerID]; !member {
			if len(c.members) >= maxCrewMembers {
				writeJSON(cfg, w, http.StatusConflict, map[string]string{"error": "crew is full"})
				return
			}
			c.members[req.PlayerID] = &crewMember{PlayerID: req.PlayerID, Name: sanitizeName(req.PlayerName)}
			c.order = append(c.order, req.PlayerID)
			c.recomputeTitles()
		}

		writeJSON(cfg, w, http.StatusOK, crews.view(c))
	}
}

func serveCrewLeave(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req crewLeaveRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		crews.mu.Lock()
		defer crews.mu.Unlock()

		code := normalizeCrewCode(p.ByName("crewCode"))
		c, ok := crews.crews[code]
		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "crew not found"})
			return
		}

		delete(c.members, req.PlayerID)
		for i, id := range c.order {
			if id == req.PlayerID {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}

		if len(c.members) == 0 {
			delete(crews.crews, code)
			writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		if c.CaptainID == req.PlayerID {
			c.CaptainID = c.order[0]
		}
		c.recomputeTitles()

		writeJSON(cfg, w, http.StatusOK, crews.view(c))
	}
}

func serveCrewScore(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		var req crewScoreRequest
		if !readJSONBody(r, &req) || req.PlayerID == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		crews.mu.Lock()
		defer crews.mu.Unlock()

		c, ok := crews.crews[normalizeCrewCode(p.ByName("crewCode"))]
		if !ok {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "crew not found"})
			return
		}
		m, member := c.members[req.PlayerID]
		if !member {
			writeJSON(cfg, w, http.StatusNotFound, map[string]string{"error": "member not found"})
			return
		}

		m.WeeklyScore += req.Points
		m.SeasonScore += req.Points
		m.CorrectCount += req.CorrectCount
		c.recomputeTitles()

		writeJSON(cfg, w, http.StatusOK, crews.view(c))
	}
}

type leaderboardRow struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	CrewCode string `json:"crewCode"`
	CrewName string `json:"crewName"`
	Score    int    `json:"score"`
}

// serveLeaderboard ranks crew members by weekly or season score, either
// globally or within one crew.
func serveLeaderboard(cfg *Config, crews *crewRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		period := r.URL.Query().Get("period")
		if period != "season" {
			period = "weekly"
		}
		crewCode := normalizeCrewCode(r.URL.Query().Get("crewCode"))

		crews.mu.Lock()
		rows := make([]leaderboardRow, 0)
		for code, c := range crews.crews {
			if crewCode != "" && code != crewCode {
				continue
			}
			for _, m := range c.memberList() {
				s := m.WeeklyScore
				if period == "season" {
					s = m.SeasonScore
				}
				rows = append(rows, leaderboardRow{
					PlayerID: m.PlayerID,
					Name:     m.Name,
					CrewCode: code,
					CrewName: c.Name,
					Score:    s,
				})
			}
		}
		crews.mu.Unlock()

		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Score > rows[j].Score
		})
		if len(rows) > 100 {
			rows = rows[:100]
		}
		for i := range rows {
			rows[i].Rank = i + 1
		}

		writeJSON(cfg, w, http.StatusOK, map[string]any{
			"period":  period,
			"entries": rows,
		})
	}
}
