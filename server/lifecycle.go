package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/teranos/docsync/errors"
)

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// Start listens on port and serves until Stop is called. It starts the
// sync ticker when sync.interval_seconds is set.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.WithHintf(
			errors.Wrapf(err, "failed to listen on port %d", port),
			"set server.port in am.toml or DOCSYNC_SERVER_PORT to use another port")
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	if interval := s.config().GetSyncInterval(); interval > 0 {
		s.startSyncTicker(interval)
	}

	s.logger.Infow("Server ready",
		"address", listener.Addr().String(),
		"name", s.replica.Name(),
		"peers", len(s.config().Sync.Peers),
	)

	err := s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server: no new sessions are accepted,
// in-flight sessions get ShutdownTimeout to finish before they are
// cancelled.
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.sessionMu.Lock()
	s.setState(ServerStateDraining)
	s.sessionMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.httpServer != nil {
		// Shutdown does not wait for hijacked WebSocket connections; wg does.
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All sessions stopped cleanly")
	case <-ctx.Done():
		s.logger.Warnw("Session shutdown timed out, cancelling", "timeout", s.shutdownTimeout)
		// Cancelling closes each session's connection
		s.cancel()
		select {
		case <-done:
			s.logger.Infow("Cancelled sessions stopped")
		case <-time.After(cancelGrace):
			s.logger.Errorw("Sessions still running after cancel", "grace", cancelGrace)
		}
	}
	s.cancel()

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", "error", err)
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")
	return shutdownErr
}
