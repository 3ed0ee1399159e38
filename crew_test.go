package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Player", sanitizeName(""))
	assert.Equal(t, "Player", sanitizeName("   "))
	assert.Equal(t, "Alice", sanitizeName("  Alice  "))
	assert.Equal(t, "abcdefghijklmnopqr", sanitizeName("abcdefghijklmnopqrstuvwxyz"))
}

func TestNormalizeCrewCode(t *testing.T) {
	assert.Equal(t, "ABCD", normalizeCrewCode(" abcd "))
	assert.Equal(t, "AB34", normalizeCrewCode("a!b_3:4"))
	assert.Equal(t, "ABCD", normalizeCrewCode("A0B1CIDO"))
}

func buildCrew(t *testing.T) (*crewRegistry, *crew) {
	t.Helper()

	crews := newCrewRegistry()
	c := &crew{
		Code:      "ABCD",
		Name:      "Testers",
		CaptainID: "cap",
		members:   make(map[string]*crewMember),
	}
	for _, id := range []string{"cap", "m1", "m2"} {
		c.members[id] = &crewMember{PlayerID: id, Name: id}
		c.order = append(c.order, id)
	}
	crews.crews["ABCD"] = c

	return crews, c
}

func TestRecomputeTitles(t *testing.T) {
	_, c := buildCrew(t)
	c.members["m1"].SeasonScore = 5000
	c.members["m1"].CorrectCount = 3
	c.members["m2"].SeasonScore = 2000
	c.members["m2"].CorrectCount = 9

	c.recomputeTitles()

	assert.Equal(t, titleCaptain, c.members["cap"].Title)
	assert.Equal(t, titleScoreBoss, c.members["m1"].Title)
	assert.Equal(t, titleSharpEye, c.members["m2"].Title)
}

func TestRecomputeTitlesNeverDoubled(t *testing.T) {
	_, c := buildCrew(t)

	// One member leads both boards; Sharp Eye falls through rather than
	// stacking on the same player.
	c.members["m1"].SeasonScore = 5000
	c.members["m1"].CorrectCount = 9

	c.recomputeTitles()

	assert.Equal(t, titleScoreBoss, c.members["m1"].Title)
	for _, m := range c.memberList() {
		assert.NotEqual(t, titleSharpEye, m.Title)
	}
}

func TestRecomputeTitlesZeroScores(t *testing.T) {
	_, c := buildCrew(t)

	c.recomputeTitles()

	assert.Equal(t, titleCaptain, c.members["cap"].Title)
	assert.Empty(t, c.members["m1"].Title)
	assert.Empty(t, c.members["m2"].Title)
}
