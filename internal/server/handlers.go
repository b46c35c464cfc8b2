// Package server exposes HTTP handlers: the WebSocket upgrade, a health
// check and a JSON status endpoint.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WebSocketHandler upgrades GET requests on /ws and hands the connection to
// the hub.
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	if err := h.attach(client); err != nil {
		h.logger.Warn("Rejecting connection", "remote_addr", r.RemoteAddr, "error", err)
		client.close()
	}
}

// HealthHandler reports that the process is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "SailHub server is running!")
}

type statusResponse struct {
	Clients    int  `json:"clients"`
	AIBoats    int  `json:"ai_boats"`
	Recordings int  `json:"recordings"`
	Recording  bool `json:"recording"`
}

// StatusHandler returns the live population as JSON.
func (h *Hub) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{
		Clients:    s.Clients,
		AIBoats:    s.Entities,
		Recordings: s.Recordings,
		Recording:  s.Recording,
	}); err != nil {
		h.logger.Warn("Error writing status response", "error", err)
	}
}
