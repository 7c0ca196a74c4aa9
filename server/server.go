// Package server exposes a replica over HTTP: the /ws/sync endpoint peers
// connect to, a small JSON API for documents and sync, and Prometheus
// metrics. It also runs the periodic sync ticker over configured peers.
package server

import (
	"context"
	"database/sql"
	"net/http"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/docsync/am"
	"github.com/teranos/docsync/replica"
)

// Server serves one replica.
type Server struct {
	db      *sql.DB
	replica *replica.Replica
	logger  *zap.SugaredLogger

	cfg     atomic.Pointer[am.Config]
	limiter *rate.Limiter // rate.Inf when inbound sessions are unlimited

	configWatcher *am.ConfigWatcher
	mux           *http.ServeMux
	httpServer    *http.Server

	// Peer name -> last observed PeerStatus* value
	peerStatus gosync.Map

	// Per-peer failure tracking for log suppression, owned by the ticker
	failMu     gosync.Mutex
	failCounts map[string]int
	lastWarned map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	// sessionMu orders wg.Add against the move out of ServerStateRunning,
	// so Stop never waits while a session is still being admitted.
	sessionMu       gosync.Mutex
	wg              gosync.WaitGroup
	shutdownTimeout time.Duration
}

// New creates a server for r using cfg. The database handle is only used
// to notice shutdown.
func New(db *sql.DB, r *replica.Replica, cfg *am.Config, logger *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		db:         db,
		replica:    r,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		failCounts: make(map[string]int),
		lastWarned: make(map[string]time.Time),
		ctx:             ctx,
		cancel:          cancel,
		shutdownTimeout: ShutdownTimeout,
	}
	s.applyConfig(cfg)
	s.mux = s.setupHTTPRoutes()
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// admit registers work that Stop must wait for. It fails once shutdown
// has begun; on success the caller must call s.wg.Done.
func (s *Server) admit() bool {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if ServerState(s.state.Load()) != ServerStateRunning {
		return false
	}
	s.wg.Add(1)
	return true
}

// config returns the current configuration.
func (s *Server) config() *am.Config {
	return s.cfg.Load()
}

// applyConfig swaps in cfg and adjusts the inbound limiter.
func (s *Server) applyConfig(cfg *am.Config) {
	s.cfg.Store(cfg)

	perMinute := cfg.Sync.InboundPerMinute
	if perMinute <= 0 {
		s.limiter.SetLimit(rate.Inf)
		return
	}
	s.limiter.SetBurst(perMinute)
	s.limiter.SetLimit(rate.Limit(float64(perMinute) / 60))
}

// WatchConfig applies edits to the config file at path while running.
// The sync interval is read once at start; the peer list and other
// settings follow the file.
func (s *Server) WatchConfig(path string) error {
	w, err := am.NewConfigWatcher(path, s.logger.Named("config"))
	if err != nil {
		return err
	}
	w.OnReload(func(cfg *am.Config) error {
		s.applyConfig(cfg)
		s.logger.Infow("Sync configuration reloaded",
			"peers", len(cfg.Sync.Peers),
			"inbound_per_minute", cfg.Sync.InboundPerMinute)
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	s.configWatcher = w
	return nil
}
