package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorJoin(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	assert.True(t, v.validate(schemaJoin, []byte(`{"playerId":"p1","avatarId":"cat"}`)))
	assert.True(t, v.validate(schemaJoin, []byte(`{"roomCode":"ROOM","playerId":"p1","avatarId":"cat","name":"Alice"}`)))

	assert.False(t, v.validate(schemaJoin, []byte(`{"avatarId":"cat"}`)))
	assert.False(t, v.validate(schemaJoin, []byte(`{"playerId":"","avatarId":"cat"}`)))
	assert.False(t, v.validate(schemaJoin, []byte(`{"playerId":42,"avatarId":"cat"}`)))
	assert.False(t, v.validate(schemaJoin, []byte(`not json`)))
}

func TestValidatorQuestion(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	assert.True(t, v.validate(schemaQuestion, []byte(`{"correct_index":1,"duration_ms":6000}`)))
	assert.True(t, v.validate(schemaQuestion, []byte(`{"roomCode":"ROOM","index":3,"correct_index":0,"duration_ms":10000}`)))

	assert.False(t, v.validate(schemaQuestion, []byte(`{"correct_index":1}`)))
	assert.False(t, v.validate(schemaQuestion, []byte(`{"correct_index":-1,"duration_ms":6000}`)))
	assert.False(t, v.validate(schemaQuestion, []byte(`{"correct_index":1,"duration_ms":0}`)))
}

func TestValidatorAnswer(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	assert.True(t, v.validate(schemaAnswer, []byte(`{"roomCode":"ROOM","playerId":"p1","answerIndex":0}`)))
	assert.True(t, v.validate(schemaAnswer, []byte(`{"roomCode":"ROOM","playerId":"p1","answerIndex":2,"latencyMs":1500}`)))

	assert.False(t, v.validate(schemaAnswer, []byte(`{"playerId":"p1","answerIndex":0}`)))
	assert.False(t, v.validate(schemaAnswer, []byte(`{"roomCode":"ROOM","playerId":"p1","answerIndex":-1}`)))
	assert.False(t, v.validate(schemaAnswer, []byte(`{"roomCode":"ROOM","playerId":"p1"}`)))
}

func TestValidatorUnknownSchema(t *testing.T) {
	v, err := newValidator()
	require.NoError(t, err)

	assert.False(t, v.validate("bogus", []byte(`{}`)))
}
