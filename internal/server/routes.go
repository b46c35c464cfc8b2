package server

import "net/http"

// SetupRoutes returns a ServeMux with the health, status and WebSocket routes.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/status", h.StatusHandler)
	mux.HandleFunc("/ws", h.WebSocketHandler)
	return mux
}
