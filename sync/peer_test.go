package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/teranos/docsync/errors"

	"go.uber.org/zap"
)

// chanConn implements Conn over a pair of channels for in-process testing.
// Messages are JSON-serialized through the channels to match real WebSocket behavior.
type chanConn struct {
	in  chan json.RawMessage
	out chan json.RawMessage
}

func (c *chanConn) ReadJSON(v interface{}) error {
	raw, ok := <-c.in
	if !ok {
		return fmt.Errorf("connection closed")
	}
	return json.Unmarshal(raw, v)
}

func (c *chanConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.out <- raw
	return nil
}

func (c *chanConn) Close() error {
	return nil
}

// connPair creates two connected Conn implementations for testing.
func connPair() (Conn, Conn) {
	ab := make(chan json.RawMessage, 32)
	ba := make(chan json.RawMessage, 32)
	return &chanConn{in: ba, out: ab}, &chanConn{in: ab, out: ba}
}

// memEndpoint is a single-goroutine Endpoint over a fakeBackend.
type memEndpoint struct {
	name    string
	backend *fakeBackend
	states  map[string]PeerState
	begun   int
}

func newMemEndpoint(name string, backend *fakeBackend) *memEndpoint {
	return &memEndpoint{name: name, backend: backend, states: map[string]PeerState{}}
}

func (e *memEndpoint) Name() string { return e.name }

func (e *memEndpoint) BeginSession(_ context.Context, peer string) error {
	e.begun++
	e.states[peer] = e.states[peer].ForgetSent()
	return nil
}

func (e *memEndpoint) GenerateMessage(_ context.Context, peer string) (*Message, error) {
	state, msg, err := Generate(e.backend, e.states[peer])
	if err != nil {
		return nil, err
	}
	e.states[peer] = state
	return msg, nil
}

func (e *memEndpoint) ReceiveMessage(_ context.Context, peer string, msg *Message) error {
	backend, state, _, err := Receive(e.backend, msg, e.states[peer])
	if err != nil {
		return err
	}
	e.backend = backend
	e.states[peer] = state
	return nil
}

func testLogger() *zap.SugaredLogger {
	logger, _ := zap.NewDevelopment()
	return logger.Sugar()
}

type reconcileResult struct {
	sent, received int
	err            error
}

func reconcileBoth(t *testing.T, a, b Endpoint, maxRounds int) (reconcileResult, reconcileResult) {
	t.Helper()
	connA, connB := connPair()
	peerA := NewPeer(connA, a, testLogger())
	peerB := NewPeer(connB, b, testLogger())
	peerA.SetMaxRounds(maxRounds)
	peerB.SetMaxRounds(maxRounds)

	ctx := context.Background()
	chA := make(chan reconcileResult, 1)
	chB := make(chan reconcileResult, 1)
	go func() {
		s, r, err := peerA.Reconcile(ctx)
		chA <- reconcileResult{s, r, err}
	}()
	go func() {
		s, r, err := peerB.Reconcile(ctx)
		chB <- reconcileResult{s, r, err}
	}()
	return <-chA, <-chB
}

func TestPeer_AlreadyInSync(t *testing.T) {
	c1 := mkChange("c1")
	a := newMemEndpoint("a", newFakeBackend(c1))
	b := newMemEndpoint("b", newFakeBackend(c1))
	a.states["b"] = PeerState{SharedHeads: []Hash{hashID("c1")}}
	b.states["a"] = PeerState{SharedHeads: []Hash{hashID("c1")}}

	ra, rb := reconcileBoth(t, a, b, DefaultMaxRounds)
	for _, res := range []reconcileResult{ra, rb} {
		if res.err != nil {
			t.Fatalf("reconciliation failed: %v", res.err)
		}
		if res.sent != 0 || res.received != 0 {
			t.Fatalf("expected 0 sent/received for synced replicas, got sent=%d received=%d",
				res.sent, res.received)
		}
	}
}

func TestPeer_OneSideHasMore(t *testing.T) {
	c1 := mkChange("c1")
	c2 := mkChange("c2", hashID("c1"))
	a := newMemEndpoint("a", newFakeBackend(c1, c2))
	b := newMemEndpoint("b", newFakeBackend(c1))

	ra, rb := reconcileBoth(t, a, b, DefaultMaxRounds)
	if ra.err != nil || rb.err != nil {
		t.Fatalf("reconciliation failed: %v / %v", ra.err, rb.err)
	}

	if _, ok := b.backend.ChangeByHash(hashID("c2")); !ok {
		t.Fatal("b should have received c2 from a")
	}
	if ra.sent != rb.received || rb.sent != ra.received {
		t.Fatalf("counts disagree: a sent %d, b received %d; b sent %d, a received %d",
			ra.sent, rb.received, rb.sent, ra.received)
	}
	if a.begun != 1 || b.begun != 1 {
		t.Fatal("each side should begin exactly one session")
	}
}

func TestPeer_BothHaveUnique(t *testing.T) {
	a := newMemEndpoint("a", newFakeBackend(mkChange("a1")))
	b := newMemEndpoint("b", newFakeBackend(mkChange("b1")))

	ra, rb := reconcileBoth(t, a, b, DefaultMaxRounds)
	if ra.err != nil || rb.err != nil {
		t.Fatalf("reconciliation failed: %v / %v", ra.err, rb.err)
	}

	if _, ok := a.backend.ChangeByHash(hashID("b1")); !ok {
		t.Fatal("a should have received b1 from b")
	}
	if _, ok := b.backend.ChangeByHash(hashID("a1")); !ok {
		t.Fatal("b should have received a1 from a")
	}
	if !HeadsEqual(a.backend.Heads(), b.backend.Heads()) {
		t.Fatal("heads should match after the session")
	}
}

func TestPeer_EmptyReplicas(t *testing.T) {
	a := newMemEndpoint("a", newFakeBackend())
	b := newMemEndpoint("b", newFakeBackend())

	ra, rb := reconcileBoth(t, a, b, DefaultMaxRounds)
	for _, res := range []reconcileResult{ra, rb} {
		if res.err != nil {
			t.Fatalf("reconciliation failed: %v", res.err)
		}
		if res.sent != 0 || res.received != 0 {
			t.Fatal("empty replicas should exchange nothing")
		}
	}
}

func TestPeer_RoundLimit(t *testing.T) {
	a := newMemEndpoint("a", newFakeBackend(mkChange("a1")))
	b := newMemEndpoint("b", newFakeBackend(mkChange("b1")))

	ra, rb := reconcileBoth(t, a, b, 1)
	for _, res := range []reconcileResult{ra, rb} {
		if !errors.Is(res.err, errors.ErrNotConverged) {
			t.Fatalf("expected ErrNotConverged, got %v", res.err)
		}
	}
}

func TestPeer_RemoteName(t *testing.T) {
	a := newMemEndpoint("alpha", newFakeBackend())
	b := newMemEndpoint("beta", newFakeBackend())

	connA, connB := connPair()
	peerA := NewPeer(connA, a, testLogger())
	peerB := NewPeer(connB, b, testLogger())

	done := make(chan error, 1)
	go func() {
		_, _, err := peerB.Reconcile(context.Background())
		done <- err
	}()
	if _, _, err := peerA.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if peerA.Remote() != "beta" || peerB.Remote() != "alpha" {
		t.Fatalf("unexpected remotes %q / %q", peerA.Remote(), peerB.Remote())
	}
	if _, ok := a.states["beta"]; !ok {
		t.Fatal("state should be keyed by the remote name")
	}
}

func TestPeer_RejectsNamelessHello(t *testing.T) {
	connA, connB := connPair()
	peerA := NewPeer(connA, newMemEndpoint("a", newFakeBackend()), testLogger())

	if err := connB.WriteJSON(Msg{Type: MsgHello}); err != nil {
		t.Fatal(err)
	}
	_, _, err := peerA.Reconcile(context.Background())
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
