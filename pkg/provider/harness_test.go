package provider_test

import (
	"context"
	"sync"

	"github.com/walletmesh/router/pkg/rpc"
)

// fakeTransport is a directional in-memory Transport pair for tests. Unlike
// rpc.LocalTransport, which always downgrades a forwarded message to
// Trusted=false, each side here declares the TransportContext it asserts to
// its peer — modeling a front door (e.g. a WebSocket server that already
// checked an Origin header) rather than a same-trust-level in-process hop.
type fakeTransport struct {
	peer *fakeTransport

	mu     sync.Mutex
	onMsg  func([]byte, rpc.TransportContext)
	closed bool

	origin  string
	trusted bool

	lastCtx rpc.TransportContext
}

var _ rpc.Transport = (*fakeTransport)(nil)

func newFakeTransportPair(originA string, trustedA bool, originB string, trustedB bool) (*fakeTransport, *fakeTransport) {
	a := &fakeTransport{origin: originA, trusted: trustedA}
	b := &fakeTransport{origin: originB, trusted: trustedB}
	a.peer = b
	b.peer = a
	return a, b
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
	cb := peer.onMsg
	peer.lastCtx = tctx
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
