// Package rpc implements the router's JSON-RPC substrate: strict
// JSON-RPC 2.0 framing, request/response correlation, timeouts, custom
// per-method serializers, middleware, and notification-based events, all
// behind a transport-agnostic Node.
//
// # Core types
//
// A Node is symmetric: the same type serves inbound requests and issues
// outbound ones, because on any given Transport either side may play
// either role.
//
//	node := rpc.NewNode(transport, logger)
//
//	node.Handle("get_balance", func(c *rpc.Context) {
//	    var req GetBalanceParams
//	    if err := c.BindParams(&req); err != nil {
//	        c.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
//	        return
//	    }
//	    c.Succeed(balanceFor(req.Address))
//	})
//
//	resp, err := node.Call(ctx, "get_balance", GetBalanceParams{Address: addr}, 5*time.Second)
//
// # Middleware
//
// Use registers pre-deserialization middleware, which sees the raw
// request and runs before any Serializer; AddPostDeserializationMiddleware
// runs after deserialization but before the terminal handler:
//
//	node.Use(originCheckMiddleware)
//	node.AddPostDeserializationMiddleware(auditMiddleware)
//
// Handler groups share middleware and nest:
//
//	private := node.NewGroup("private")
//	private.Use(requireSessionMiddleware)
//	private.Handle("wm_call", handleCall)
//
// # Serializers
//
// RegisterSerializer attaches custom encode/decode functions to a method,
// used both on the callee side (populating Context.Typed) and by Proxy on
// the caller side.
//
// # Transports
//
// Node is agnostic to what Transport it is bound to: WebsocketTransport for
// real network peers, LocalTransport for in-process pairs (tests, and
// embedding a consumer without a socket). LocalTransport always downgrades
// a forwarded TransportContext's trust to false, so a receiving Node never
// mistakes a relayed context for one the transport itself vouches for.
package rpc
