/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
)

type metricsView struct {
	Metrics
	RoomsActive int   `json:"roomsActive"`
	UptimeSec   int64 `json:"uptimeSec"`
}

type complianceRequest struct {
	Accepted bool `json:"accepted"`
}

type clientErrorEvent struct {
	At      int64  `json:"at"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	URL     string `json:"url,omitempty"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func readJSONBody(r *http.Request, dst any) bool {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func serveMetrics(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		engine.mu.Lock()
		view := metricsView{
			Metrics:     engine.metrics,
			RoomsActive: len(engine.rooms),
			UptimeSec:   int64(time.Since(engine.startedAt).Seconds()),
		}
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, view)
	}
}

// serveComplianceAge records an age-gate acknowledgement. Only the boolean
// and a timestamp are retained; the endpoint never stores identifiers.
func serveComplianceAge(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req complianceRequest
		if !readJSONBody(r, &req) {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}

		engine.mu.Lock()
		engine.compliance = append(engine.compliance, complianceEvent{
			At:       time.Now().UnixMilli(),
			Accepted: req.Accepted,
		})
		if len(engine.compliance) > cfg.complianceLimit {
			engine.compliance = engine.compliance[len(engine.compliance)-cfg.complianceLimit:]
		}
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func serveAnalytics(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var event analyticsEvent
		if !readJSONBody(r, &event) || event.Event == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		event.At = time.Now().UnixMilli()

		engine.mu.Lock()
		engine.analytics = append(engine.analytics, event)
		if len(engine.analytics) > cfg.analyticsLimit {
			engine.analytics = engine.analytics[len(engine.analytics)-cfg.analyticsLimit:]
		}
		engine.mu.Unlock()

		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// serveClientError accepts browser-side error reports and folds them into
// the analytics buffer so one retention policy covers both.
func serveClientError(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var report clientErrorEvent
		if !readJSONBody(r, &report) || report.Message == "" {
			writeJSON(cfg, w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		report.At = time.Now().UnixMilli()

		engine.mu.Lock()
		engine.analytics = append(engine.analytics, analyticsEvent{
			At:    report.At,
			Event: "client_error",
			Meta:  report,
		})
		if len(engine.analytics) > cfg.analyticsLimit {
			engine.analytics = engine.analytics[len(engine.analytics)-cfg.analyticsLimit:]
		}
		engine.mu.Unlock()

		logf(cfg, "CLIENT: Error from %s: %s", realIP(r), report.Message)
		writeJSON(cfg, w, http.StatusOK, map[string]bool{"ok": true})
	}
}
