package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		bind:           "0.0.0.0",
		port:           8080,
		roomTTL:        2 * time.Hour,
		maxRoomPlayers: 12,
		minRoomPlayers: 3,
		answerCooldown: 700 * time.Millisecond,
		msgRate:        "2s:12:20",
		joinIPRate:     "10s:5:10",
		joinRoomRate:   "5s:6:12",
		answerRate:     "2s:5:10",
		reaperInterval: 5 * time.Minute,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.validate())

	assert.Equal(t, rateSpec{window: 2 * time.Second, soft: 12, hard: 20}, cfg.msgLimit)
	assert.Equal(t, rateSpec{window: 10 * time.Second, soft: 5, hard: 10}, cfg.joinIPLimit)
	assert.Equal(t, rateSpec{window: 5 * time.Second, soft: 6, hard: 12}, cfg.joinRoomLimit)
	assert.Equal(t, rateSpec{window: 2 * time.Second, soft: 5, hard: 10}, cfg.answerLimit)
}

func TestConfigValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"bad port":           func(c *Config) { c.port = 0 },
		"tls cert only":      func(c *Config) { c.tlsCert = "cert.pem" },
		"zero max players":   func(c *Config) { c.maxRoomPlayers = 0 },
		"min above max":      func(c *Config) { c.minRoomPlayers = 13 },
		"zero room ttl":      func(c *Config) { c.roomTTL = 0 },
		"zero reaper":        func(c *Config) { c.reaperInterval = 0 },
		"malformed msg rate": func(c *Config) { c.msgRate = "2s:20" },
		"soft above hard":    func(c *Config) { c.answerRate = "2s:10:5" },
	} {
		cfg := validConfig()
		mutate(cfg)
		assert.Error(t, cfg.validate(), name)
	}
}

func TestConfigScheme(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert = "cert.pem"
	cfg.tlsKey = "key.pem"
	assert.Equal(t, "https", cfg.scheme())
}
