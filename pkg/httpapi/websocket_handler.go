package httpapi

import (
	"net/http"
)

// handleWebSocket upgrades to the single duplex /ws endpoint of spec.md §6,
// authenticating off the `token` query parameter (a WebSocket handshake
// carries no Authorization header) and scoping the session to
// `workspace_id`. All framing, subscription, and backpressure logic lives
// in realtime.Hub; this handler only translates the HTTP request into
// Hub.Accept's parameters.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "realtime sessions not available", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	workspaceID := r.URL.Query().Get("workspace_id")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	_ = s.hub.Accept(w, r, token, workspaceID)
}
