package router_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/walletmesh/router/pkg/rpc"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %v: %v", v, err)
	}
	return string(data)
}

// fakeTransport is a directional in-memory Transport pair for tests. Unlike
// rpc.LocalTransport, which always downgrades a forwarded message to
// Trusted=false, each side here declares the TransportContext it asserts
// to its peer — modeling a front door (e.g. a WebSocket server that
// already checked an Origin header) rather than a same-trust-level
// in-process hop.
type fakeTransport struct {
	peer *fakeTransport

	mu      sync.Mutex
	onMsg   func([]byte, rpc.TransportContext)
	lastCtx rpc.TransportContext
	closed  bool

	origin  string
	trusted bool
}

var _ rpc.Transport = (*fakeTransport)(nil)

func newFakeTransportPair(originA string, trustedA bool, originB string, trustedB bool) (*fakeTransport, *fakeTransport) {
	a := &fakeTransport{origin: originA, trusted: trustedA}
	b := &fakeTransport{origin: originB, trusted: trustedB}
	a.peer = b
	b.peer = a
	return a, b
}

// setOrigin lets a test simulate a different caller identity for a
// subsequent Send, as would happen across separate browser tabs/sessions
// funneled through the same harness.
func (t *fakeTransport) setOrigin(origin string, trusted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.origin = origin
	t.trusted = trusted
}

func (t *fakeTransport) Send(_ context.Context, data []byte) error {
	t.mu.Lock()
	peer := t.peer
	closed := t.closed
	tctx := rpc.TransportContext{Origin: t.origin, Trusted: t.trusted}
	t.mu.Unlock()
	if closed || peer == nil {
		return rpc.ErrNotConnected
	}

	peer.mu.Lock()
	peer.lastCtx = tctx
	cb := peer.onMsg
	peer.mu.Unlock()

	if cb != nil {
		go cb(data, tctx)
	}
	return nil
}

func (t *fakeTransport) OnMessage(fn func([]byte, rpc.TransportContext)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMsg = fn
}

func (t *fakeTransport) LastMessageContext() rpc.TransportContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCtx
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
