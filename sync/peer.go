package sync

import (
	"context"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/logger"

	"go.uber.org/zap"
)

// DefaultMaxRounds bounds a session that keeps exchanging messages.
const DefaultMaxRounds = 32

// Conn abstracts the WebSocket connection for testability.
// The real implementation wraps gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Endpoint is the local replica as seen by a session. It owns the peer
// states and the document, and serialises access to them.
type Endpoint interface {
	// Name identifies this replica in the hello handshake.
	Name() string

	// BeginSession prepares the state for peer at the start of a session.
	BeginSession(ctx context.Context, peer string) error

	// GenerateMessage runs Generate for peer. A nil message means idle.
	GenerateMessage(ctx context.Context, peer string) (*Message, error)

	// ReceiveMessage runs Receive for peer.
	ReceiveMessage(ctx context.Context, peer string, msg *Message) error
}

// Peer manages one sync session with a remote replica.
// Both sides of the connection run the same code.
type Peer struct {
	conn      Conn
	endpoint  Endpoint
	logger    *zap.SugaredLogger
	maxRounds int

	remote string

	// Message counts for this session
	sent     int
	received int
}

// NewPeer creates a sync peer for a single session.
func NewPeer(conn Conn, endpoint Endpoint, logger *zap.SugaredLogger) *Peer {
	return &Peer{
		conn:      conn,
		endpoint:  endpoint,
		logger:    logger,
		maxRounds: DefaultMaxRounds,
	}
}

// SetMaxRounds overrides the round limit. Values <= 0 keep the default.
func (p *Peer) SetMaxRounds(n int) {
	if n > 0 {
		p.maxRounds = n
	}
}

// Remote returns the name the peer announced in its hello.
func (p *Peer) Remote() string {
	return p.remote
}

// Reconcile runs the session until both sides go idle in the same round.
// Both peers call this concurrently on their ends of the connection.
// Returns the number of sync messages sent and received.
func (p *Peer) Reconcile(ctx context.Context) (sent, received int, err error) {
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, errors.ErrNotConverged):
			outcome = "not_converged"
		case err != nil:
			outcome = "error"
		}
		sessionsTotal.WithLabelValues(outcome).Inc()
	}()

	if err := p.send(Msg{Type: MsgHello, Name: p.endpoint.Name()}); err != nil {
		return 0, 0, errors.Wrap(err, "failed to send sync hello")
	}

	var hello Msg
	if err := p.recv(&hello); err != nil {
		return 0, 0, errors.Wrap(err, "failed to receive sync hello")
	}
	if hello.Type != MsgHello {
		return 0, 0, errors.Newf("expected sync_hello, got %s", hello.Type)
	}
	if hello.Name == "" {
		return 0, 0, errors.Wrap(errors.ErrInvalidRequest, "peer hello carries no name")
	}
	p.remote = hello.Name

	if err := p.endpoint.BeginSession(ctx, p.remote); err != nil {
		return 0, 0, errors.Wrapf(err, "failed to begin session with %s", p.remote)
	}

	rounds, err := p.exchange(ctx)
	if err != nil {
		return p.sent, p.received, err
	}
	sessionRounds.Observe(float64(rounds))

	if err := p.send(Msg{Type: MsgDone, Sent: p.sent, Received: p.received}); err != nil {
		return p.sent, p.received, errors.Wrap(err, "failed to send sync done")
	}
	var done Msg
	if err := p.recv(&done); err != nil {
		return p.sent, p.received, errors.Wrap(err, "failed to receive sync done")
	}
	if done.Type != MsgDone {
		return p.sent, p.received, errors.Newf("expected sync_done, got %s", done.Type)
	}

	p.logger.Infow("Sync session complete",
		logger.FieldPeer, p.remote,
		logger.FieldRound, rounds,
		"sent", p.sent,
		"received", p.received,
	)
	return p.sent, p.received, nil
}

// exchange runs lock-step rounds and returns how many it took.
func (p *Peer) exchange(ctx context.Context) (int, error) {
	for round := 1; round <= p.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return round, errors.Wrap(err, "sync session cancelled")
		}

		msg, err := p.endpoint.GenerateMessage(ctx, p.remote)
		if err != nil {
			return round, errors.Wrapf(err, "failed to generate message for %s", p.remote)
		}

		out := Msg{Type: MsgIdle}
		if msg != nil {
			out = Msg{Type: MsgSync, Sync: msg}
		}
		if err := p.send(out); err != nil {
			return round, errors.Wrapf(err, "failed to send round %d", round)
		}
		if msg != nil {
			p.sent++
		}

		var in Msg
		if err := p.recv(&in); err != nil {
			return round, errors.Wrapf(err, "failed to receive round %d", round)
		}

		switch in.Type {
		case MsgSync:
			if in.Sync == nil {
				return round, errors.Wrap(errors.ErrMalformedMessage, "sync_message without payload")
			}
			if err := p.endpoint.ReceiveMessage(ctx, p.remote, in.Sync); err != nil {
				return round, errors.Wrapf(err, "failed to receive message from %s", p.remote)
			}
			p.received++
		case MsgIdle:
		default:
			return round, errors.Newf("expected sync_message or sync_idle, got %s", in.Type)
		}

		p.logger.Debugw("Sync round",
			logger.FieldPeer, p.remote,
			logger.FieldRound, round,
			"sent_message", msg != nil,
			"received_message", in.Type == MsgSync,
		)

		if msg == nil && in.Type == MsgIdle {
			return round, nil
		}
	}

	return p.maxRounds, errors.WithHintf(
		errors.Wrapf(errors.ErrNotConverged, "peer %s after %d rounds", p.remote, p.maxRounds),
		"raise sync.max_rounds or check that %s runs a compatible version", p.remote,
	)
}

func (p *Peer) send(msg Msg) error {
	return p.conn.WriteJSON(msg)
}

func (p *Peer) recv(msg *Msg) error {
	return p.conn.ReadJSON(msg)
}
