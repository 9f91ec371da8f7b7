package rpc

import (
	"context"
	"sync"
)

// LocalTransport connects two in-process Nodes directly, without a network
// hop. It is used to wire the router's own Node to an in-process consumer
// (e.g. a test harness, or an embedded wallet) without standing up a real
// WebSocket listener.
type LocalTransport struct {
	name string
	peer *LocalTransport

	mu      sync.RWMutex
	onMsg   func([]byte, TransportContext)
	lastCtx TransportContext
	closed  bool
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransportPair returns two connected LocalTransports; anything
// sent on one is delivered to the other's registered handler.
func NewLocalTransportPair(nameA, nameB string) (*LocalTransport, *LocalTransport) {
	a := &LocalTransport{name: nameA}
	b := &LocalTransport{name: nameB}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *LocalTransport) Send(ctx context.Context, data []byte) error {
	t.mu.RLock()
	peer := t.peer
	closed := t.closed
	t.mu.RUnlock()
	if closed || peer == nil {
		return ErrNotConnected
	}

	// A message crossing a LocalTransport hop is always delivered to the
	// peer as untrusted: the peer must re-establish trust for itself
	// rather than inherit the sender's TransportContext.
	tctx := TransportContext{Origin: t.name, Trusted: false}

	peer.mu.Lock()
	peer.lastCtx = tctx
	cb := peer.onMsg
	peer.mu.Unlock()

	// Delivery is best-effort and asynchronous, like a real transport: the
	// sender must not block on however long the peer's handler chain takes.
	if cb != nil {
		go cb(data, tctx)
	}
	return nil
}

func (t *LocalTransport) OnMessage(fn func([]byte, TransportContext)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMsg = fn
}

func (t *LocalTransport) LastMessageContext() TransportContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastCtx
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
