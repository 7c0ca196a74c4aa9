package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// syncUpgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) syncUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against server.allowed_origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Peers dial without an Origin header; only browsers send one
	if origin == "" {
		return true
	}

	// Prefix matching allows any port number
	for _, allowed := range s.config().GetServerAllowedOrigins() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// httpToWS converts http(s) URLs to ws(s) URLs.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// syncURL returns the /ws/sync endpoint for a peer base URL.
func syncURL(peer string) string {
	return strings.TrimSuffix(httpToWS(peer), "/") + "/ws/sync"
}
