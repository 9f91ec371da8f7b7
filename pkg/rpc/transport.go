package rpc

import "context"

// TransportContext describes the provenance of a single inbound message, as
// required of every Transport implementation: callers must be able to tell
// a message that arrived over a network boundary from one forwarded
// in-process, since permission decisions depend on that distinction.
type TransportContext struct {
	// Origin identifies the peer the message came from (a remote address,
	// a local transport name, a backend chain id), for logging and audit.
	Origin string
	// Trusted reports whether the transport itself vouches for this
	// message's TransportContext, as opposed to it having been relayed or
	// constructed by intermediate application code. A LocalTransport pair
	// always forces this to false on the forwarding side: trust is never
	// inherited across a hop, it must be re-asserted by whoever receives
	// the forwarded message.
	Trusted bool
}

// Transport is the abstract bidirectional channel a Node is bound to. Both
// the WebSocket implementation and the in-process LocalTransport satisfy it,
// so a Node never needs to know whether its peer is a browser extension, a
// backend RPC endpoint, or another component in the same process.
type Transport interface {
	// Send writes data to the peer. It must be safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// OnMessage registers the callback invoked for every inbound message.
	// Only one callback is supported; registering a new one replaces the
	// previous. The callback must not block for long, as it runs on the
	// transport's read loop.
	OnMessage(func(data []byte, tctx TransportContext))

	// LastMessageContext returns the TransportContext of the most recently
	// delivered inbound message, for handlers that need it outside the
	// OnMessage callback (e.g. from within a Context built off it).
	LastMessageContext() TransportContext

	// Close tears down the transport. Subsequent Send calls fail.
	Close() error
}
