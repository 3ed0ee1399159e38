/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const maxFrameBytes = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// deliver hands a frame to the write pump without blocking. A full send
// buffer means the peer is not draining; the frame is dropped.
func (c *client) deliver(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func serveWS(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan []byte, 16),
		}

		engine.connect(c, realIP(r))
		engine.bindConnection(c, uuid.NewString())

		go c.writePump()
		c.readPump(engine)
	}
}

func (c *client) readPump(engine *Engine) {
	defer func() {
		engine.disconnect(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		engine.handleMessage(c, raw)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
