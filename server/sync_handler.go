package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/docsync/db"
	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"
	"github.com/teranos/docsync/sync"
)

// gorillaSyncConn wraps gorilla/websocket.Conn to implement sync.Conn.
type gorillaSyncConn struct {
	conn *websocket.Conn
}

func (c *gorillaSyncConn) ReadJSON(v interface{}) error  { return c.conn.ReadJSON(v) }
func (c *gorillaSyncConn) WriteJSON(v interface{}) error { return c.conn.WriteJSON(v) }
func (c *gorillaSyncConn) Close() error                  { return c.conn.Close() }

// SyncWithPeer dials peerURL's /ws/sync endpoint and runs one session for
// endpoint. ctx bounds the whole session; the connection is closed when it
// ends so a stalled peer cannot block a read forever.
func SyncWithPeer(ctx context.Context, endpoint sync.Endpoint, peerURL string, maxRounds int, log *zap.SugaredLogger) (SyncResult, error) {
	result := SyncResult{Peer: peerURL}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, syncURL(peerURL), nil)
	if err != nil {
		return result, errors.WithHintf(
			errors.Wrapf(err, "failed to connect to peer %s", peerURL),
			"check that docsync server is running at %s", peerURL)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := sync.NewPeer(&gorillaSyncConn{conn: conn}, endpoint, log)
	peer.SetMaxRounds(maxRounds)

	sent, received, err := peer.Reconcile(ctx)
	result.Remote = peer.Remote()
	result.Sent = sent
	result.Received = received
	if err != nil {
		return result, errors.Wrapf(err, "reconciliation with %s failed", peerURL)
	}
	return result, nil
}

// HandleSyncWebSocket handles incoming sync peer connections.
// The remote peer connects via WebSocket and both sides run the symmetric
// reconciliation protocol. This is the "accept incoming sync" side.
func (s *Server) HandleSyncWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	defer s.wg.Done()

	if !s.limiter.Allow() {
		s.logger.Warnw("Inbound sync session throttled", "remote_addr", r.RemoteAddr)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "Too many sync sessions")
		return
	}

	upgrader := s.syncUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("Sync WebSocket upgrade failed", logger.FieldError, err)
		return
	}
	defer conn.Close()

	cfg := s.config()
	ctx, cancel := context.WithTimeout(s.ctx, cfg.GetSessionTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	peer := sync.NewPeer(&gorillaSyncConn{conn: conn}, s.replica, s.logger)
	peer.SetMaxRounds(cfg.GetMaxRounds())

	sent, received, err := peer.Reconcile(ctx)
	if err != nil {
		s.logger.Warnw("Sync reconciliation failed",
			"remote_addr", r.RemoteAddr,
			logger.FieldPeer, peer.Remote(),
			"sent", sent,
			"received", received,
			logger.FieldError, err,
		)
		return
	}

	s.logger.Infow("Sync reconciliation complete",
		"remote_addr", r.RemoteAddr,
		logger.FieldPeer, peer.Remote(),
		"sent", sent,
		"received", received,
	)
}

// HandleSync initiates outbound sync with a peer.
// POST /api/sync {"peer":"http://laptop.local:8770"}
func (s *Server) HandleSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req syncRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.Peer == "" {
		writeError(w, http.StatusBadRequest, "Missing 'peer' field")
		return
	}

	cfg := s.config()
	ctx, cancel := context.WithTimeout(r.Context(), cfg.GetSessionTimeout())
	defer cancel()

	s.logger.Infow("Initiating sync with peer", logger.FieldURL, req.Peer)
	result, err := SyncWithPeer(ctx, s.replica, req.Peer, cfg.GetMaxRounds(), s.logger)
	if err != nil {
		result.Error = err.Error()
		status := http.StatusBadGateway
		if errors.Is(err, errors.ErrNotConverged) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSyncStatus reports the replica heads and per-peer negotiation state.
// GET /api/sync/status
func (s *Server) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, syncStatusResponse{
		Replica:    s.replica.Status(),
		Configured: s.buildPeerList(),
		State:      stateString(ServerState(s.state.Load())),
	})
}

// HandleSyncPeer forgets a peer's state so the next session starts over.
// DELETE /api/sync/peer?name=laptop
func (s *Server) HandleSyncPeer(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing 'name' parameter")
		return
	}
	if err := s.replica.ForgetPeer(r.Context(), name); err != nil {
		writeErrorFor(w, err)
		return
	}
	s.peerStatus.Delete(name)
	w.WriteHeader(http.StatusNoContent)
}

// buildPeerList returns configured peers with their reachability status.
func (s *Server) buildPeerList() []peerStatusResponse {
	cfg := s.config()
	peers := []peerStatusResponse{}
	for _, name := range cfg.PeerNames() {
		status := ""
		if v, ok := s.peerStatus.Load(name); ok {
			status = v.(string)
		}
		peers = append(peers, peerStatusResponse{
			Name:   name,
			URL:    cfg.Sync.Peers[name],
			Status: status,
		})
	}
	return peers
}

// startSyncTicker runs periodic sync with all configured peers.
func (s *Server) startSyncTicker(interval time.Duration) {
	if !s.admit() {
		return
	}
	go func() {
		defer s.wg.Done()
		s.logger.Infow("Sync ticker started", "interval", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if !s.syncAllPeers(s.ctx) {
					return
				}
			}
		}
	}()
}

// syncAllPeers reconciles with every configured peer, a few at a time.
// Emits one summary log per tick. Individual failure warnings are
// suppressed after syncWarnInitialAttempts consecutive failures per peer,
// then re-emitted hourly. Returns false once the database is closed.
func (s *Server) syncAllPeers(ctx context.Context) bool {
	if err := db.Ping(ctx, s.db); errors.Is(err, db.ErrClosed) {
		s.logger.Infow("Sync ticker stopping, database closed")
		return false
	}

	cfg := s.config()
	names := cfg.PeerNames()
	if len(names) == 0 {
		return true
	}

	var (
		mu          gosync.Mutex
		synced      int
		transferred []string
		unreachable []string
	)

	var g errgroup.Group
	g.SetLimit(maxParallelPeers)
	for _, name := range names {
		peerURL := cfg.Sync.Peers[name]
		g.Go(func() error {
			peerCtx, cancel := context.WithTimeout(ctx, cfg.GetSessionTimeout())
			defer cancel()

			result, err := SyncWithPeer(peerCtx, s.replica, peerURL, cfg.GetMaxRounds(), s.logger)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unreachable = append(unreachable, name)
				s.recordFailure(name, peerURL, result, err)
				return nil
			}
			s.recordSuccess(name)
			synced++
			if result.Sent > 0 || result.Received > 0 {
				transferred = append(transferred, fmt.Sprintf("%s ↑%d↓%d", name, result.Sent, result.Received))
			}
			return nil
		})
	}
	g.Wait()

	// One summary line per tick (only when something noteworthy happened)
	if len(transferred) > 0 || len(unreachable) > 0 {
		sort.Strings(transferred)
		fields := []interface{}{}
		if synced > 0 {
			fields = append(fields, "synced", synced)
		}
		if len(transferred) > 0 {
			fields = append(fields, "transferred", strings.Join(transferred, ", "))
		}
		if len(unreachable) > 0 {
			fields = append(fields, "unreachable", len(unreachable))
		}
		s.logger.Infow("Sync tick", fields...)
	}
	return true
}

func (s *Server) recordFailure(name, peerURL string, result SyncResult, err error) {
	status := PeerStatusFailed
	if result.Remote == "" {
		status = PeerStatusUnreachable
	}
	s.peerStatus.Store(name, status)

	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failCounts[name]++
	if s.failCounts[name] <= syncWarnInitialAttempts || time.Since(s.lastWarned[name]) > time.Hour {
		s.logger.Warnw("Scheduled sync failed",
			logger.FieldPeer, name,
			logger.FieldURL, peerURL,
			"sent", result.Sent,
			"received", result.Received,
			"consecutive_failures", s.failCounts[name],
			logger.FieldError, err,
		)
		s.lastWarned[name] = time.Now()
	}
}

func (s *Server) recordSuccess(name string) {
	s.peerStatus.Store(name, PeerStatusOK)
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failCounts[name] = 0
}
