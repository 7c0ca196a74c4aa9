package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupHTTPRoutes configures all HTTP handlers on a fresh mux
func (s *Server) setupHTTPRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/sync", s.HandleSyncWebSocket)                          // Sync peer WebSocket (incoming reconciliation)
	mux.HandleFunc("/api/sync/status", s.corsMiddleware(s.HandleSyncStatus))   // Replica and peer state (GET)
	mux.HandleFunc("/api/sync/peer", s.corsMiddleware(s.HandleSyncPeer))       // Forget a peer (DELETE)
	mux.HandleFunc("/api/sync", s.corsMiddleware(s.HandleSync))                // Initiate sync with peer (POST)
	mux.HandleFunc("/api/doc", s.corsMiddleware(s.HandleDoc))                  // Document read/write (GET/POST/DELETE)
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))                // Liveness (GET)
	mux.Handle("/metrics", promhttp.Handler())                                 // Prometheus scrape endpoint
	return mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured allowed origins
// Uses the same origin validation as WebSocket connections (server.allowed_origins config)
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// HandleHealth reports liveness and the server state.
// GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	state := ServerState(s.state.Load())
	status := http.StatusOK
	if state != ServerStateRunning {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"status": stateString(state),
		"name":   s.replica.Name(),
	})
}
