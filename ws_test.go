package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientDeliverNonBlocking(t *testing.T) {
	c := &client{send: make(chan []byte, 2)}

	assert.True(t, c.deliver([]byte("one")))
	assert.True(t, c.deliver([]byte("two")))

	// Buffer full: the frame is dropped instead of blocking the engine.
	assert.False(t, c.deliver([]byte("three")))

	assert.Equal(t, []byte("one"), <-c.send)
	assert.Equal(t, []byte("two"), <-c.send)
}
