/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// serveRoomQR renders a PNG QR code pointing at the join URL for a room, so
// a host can put the code on a shared screen.
func serveRoomQR(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		roomCode := p.ByName("roomCode")
		if roomCode == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		engine.mu.Lock()
		_, ok := engine.rooms[roomCode]
		engine.mu.Unlock()
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// The route is /.../:roomCode/qr; the join URL is everything before /qr.
		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "unable to generate qr code", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
