package server

import (
	"time"

	"github.com/teranos/docsync/replica"
)

const (
	// ShutdownTimeout is how long to wait for in-flight sessions on shutdown
	ShutdownTimeout = 30 * time.Second

	// cancelGrace is how long Stop waits for sessions to return once their
	// context is cancelled
	cancelGrace = 5 * time.Second

	// syncWarnInitialAttempts is how many consecutive failures per peer are
	// logged individually before warnings drop to hourly
	syncWarnInitialAttempts = 5

	// maxParallelPeers bounds concurrent outbound sessions per tick
	maxParallelPeers = 4
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// Peer reachability as last observed by the sync ticker or an API-initiated session
const (
	PeerStatusOK          = "ok"
	PeerStatusUnreachable = "unreachable"
	PeerStatusFailed      = "failed"
)

// SyncResult reports one reconciliation session.
type SyncResult struct {
	Peer     string `json:"peer"`
	Remote   string `json:"remote,omitempty"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
	Error    string `json:"error,omitempty"`
}

// syncRequest is the JSON body for POST /api/sync.
type syncRequest struct {
	Peer string `json:"peer"` // e.g. "http://laptop.local:8770"
}

// docWriteRequest is the JSON body for POST /api/doc.
type docWriteRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// docResponse is the JSON body for GET /api/doc.
type docResponse struct {
	Heads   []string          `json:"heads"`
	Changes int               `json:"changes"`
	Values  map[string]string `json:"values"`
}

// peerStatusResponse adds configured peer reachability to the replica status.
type peerStatusResponse struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

// syncStatusResponse is the JSON body for GET /api/sync/status.
type syncStatusResponse struct {
	Replica    replica.Status       `json:"replica"`
	Configured []peerStatusResponse `json:"configured"`
	State      string               `json:"server_state"`
}
