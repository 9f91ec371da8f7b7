package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/rerr"
)

const (
	nodeGroupPrefix = "group."
	nodeGroupRoot   = "root"
)

// HandlerGroup organizes related handlers under shared middleware. Groups
// nest: a handler registered on a child group runs after every ancestor
// group's middleware, in outside-in order.
type HandlerGroup interface {
	Handle(method string, handler Handler)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
}

// Node is the single symmetric abstraction every peer in the system is
// built from: it can serve inbound requests (Handle/Use/NewGroup) and
// initiate outbound ones (Call) over the same Transport, because a dApp
// client and a chain backend play both roles depending on who started the
// exchange. Binding a Node to a LocalTransport, a WebsocketTransport dialed
// out, or one accepted from an http.Handler upgrade all produce an
// identical programming surface.
type Node struct {
	transport Transport
	logger    log.Logger

	groupID      string
	handlerChain map[string][]Handler
	routes       map[string][]string
	fallback     Handler

	postDeserializationMW []Handler
	serializers           map[string]Serializer

	storage *SafeStorage

	nextReqID atomic.Uint64

	mu             sync.Mutex
	pending        map[uint64]chan *Response
	closed         bool
	notifyHandlers map[string][]func(Params)
}

var _ HandlerGroup = (*Node)(nil)

// NewNode binds a Node to transport and starts routing its inbound
// messages. The Node answers the built-in "ping" method automatically.
func NewNode(transport Transport, lg log.Logger) *Node {
	if lg == nil {
		lg = log.NewNop()
	}
	n := &Node{
		transport:      transport,
		logger:         lg.WithName("rpc-node"),
		groupID:        nodeGroupPrefix + nodeGroupRoot,
		handlerChain:   make(map[string][]Handler),
		routes:         make(map[string][]string),
		serializers:    make(map[string]Serializer),
		storage:        NewSafeStorage(),
		pending:        make(map[uint64]chan *Response),
		notifyHandlers: make(map[string][]func(Params)),
	}
	n.Handle(PingMethod.String(), n.handlePing)
	transport.OnMessage(n.dispatch)
	return n
}

// Handle registers handler as the terminal step for method, after any
// global and group (pre-deserialization) middleware, the deserialization
// step, and any post-deserialization middleware. Panics on empty method or
// a method already registered — duplicate registration is a programmer
// error, never a runtime one.
func (n *Node) Handle(method string, handler Handler) {
	if _, exists := n.routes[method]; exists {
		panic(fmt.Sprintf("rpc: method %s already registered", method))
	}
	n.handle(method, handler)
	n.routes[method] = []string{n.groupID, method}
}

func (n *Node) handle(method string, handler Handler) {
	if method == "" {
		panic("rpc: method cannot be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("rpc: handler cannot be nil for method %s", method))
	}
	n.handlerChain[method] = []Handler{handler}
}

// SetFallbackHandler registers the handler invoked when no registered
// method matches an inbound request. The unmatched method name is still
// available via ctx.Request.Method.
func (n *Node) SetFallbackHandler(handler Handler) {
	n.fallback = handler
}

// RegisterSerializer attaches a Serializer to method, used on the callee
// side to decode params into Context.Typed and on the Proxy caller side to
// encode/decode params and results for call_method.
func (n *Node) RegisterSerializer(method string, s Serializer) {
	n.serializers[method] = s
}

// Use adds global pre-deserialization middleware executed, in registration
// order, before every handler on this Node. It sees raw request params —
// useful for origin checks and rate limiting before the cost of decoding.
func (n *Node) Use(middleware Handler) {
	n.use(n.groupID, middleware)
}

func (n *Node) use(groupID string, middleware Handler) {
	if middleware == nil {
		panic("rpc: middleware cannot be nil")
	}
	n.handlerChain[groupID] = append(n.handlerChain[groupID], middleware)
}

// AddPostDeserializationMiddleware adds middleware that runs after a
// method's registered Serializer (if any) has populated Context.Typed, but
// before the terminal handler.
func (n *Node) AddPostDeserializationMiddleware(middleware Handler) {
	if middleware == nil {
		panic("rpc: middleware cannot be nil")
	}
	n.postDeserializationMW = append(n.postDeserializationMW, middleware)
}

// NewGroup creates a handler group nested directly under the Node's root.
func (n *Node) NewGroup(name string) HandlerGroup {
	return &handlerGroup{
		groupID:     nodeGroupPrefix + name,
		routePrefix: []string{n.groupID},
		root:        n,
	}
}

// Call sends method/params as a new request and blocks until a matching
// response arrives, ctx is done, or timeout elapses (whichever first). A
// timeout of 0 means no deadline beyond ctx's own.
func (n *Node) Call(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	raw, err := n.encodeCallParams(method, params)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode params: %w", err)
	}

	reqID := n.nextReqID.Add(1)
	req := Request{JSONRPC: jsonrpcVersion, ID: reqID, Method: method, Params: raw}

	sink := make(chan *Response, 1)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrNotConnected
	}
	n.pending[reqID] = sink
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.pending, reqID)
		n.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := n.transport.Send(callCtx, data); err != nil {
		return nil, err
	}

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w for request %d: %w", ErrNoResponse, reqID, callCtx.Err())
	case resp, ok := <-sink:
		if !ok {
			return nil, ErrNotConnected
		}
		return resp, nil
	}
}

func (n *Node) encodeCallParams(method string, params any) (json.RawMessage, error) {
	if s, ok := n.serializers[method]; ok && s.SerializeParams != nil {
		return s.SerializeParams(params)
	}
	return defaultSerializeParams(params)
}

// Emit sends method/params as a fire-and-forget notification: no id, no
// response expected. Used for server-initiated events.
func (n *Node) Emit(method string, params any) error {
	raw, err := defaultSerializeParams(params)
	if err != nil {
		return fmt.Errorf("rpc: encode notification params: %w", err)
	}
	notif := NewNotification(method, paramsFromRaw(raw))
	data, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMarshalingRequest, err)
	}
	return n.transport.Send(context.Background(), data)
}

func paramsFromRaw(raw json.RawMessage) Params {
	var p Params
	_ = json.Unmarshal(raw, &p)
	return p
}

// On subscribes handler to inbound notifications named event. Multiple
// handlers may share one event name; all are invoked, in registration
// order, for each matching notification.
func (n *Node) On(event string, handler func(Params)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifyHandlers[event] = append(n.notifyHandlers[event], handler)
}

// Storage returns the key-value bag shared across every request processed
// on this Node.
func (n *Node) Storage() *SafeStorage { return n.storage }

// Close tears down the underlying transport and rejects every outstanding
// Call with ErrNotConnected.
func (n *Node) Close() error {
	n.mu.Lock()
	n.closed = true
	for id, sink := range n.pending {
		close(sink)
		delete(n.pending, id)
	}
	n.mu.Unlock()
	return n.transport.Close()
}

// dispatch is the Transport.OnMessage callback: every inbound byte slice —
// a request to route, a response to a pending Call, or a notification to
// fan out to On subscribers — passes through here.
func (n *Node) dispatch(data []byte, tctx TransportContext) {
	env, err := sniff(data)
	if err != nil {
		n.logger.Debug("dropping malformed message", "error", err)
		return
	}

	switch {
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		n.deliverResponse(*env.ID, data)
	case env.Method != "" && env.ID == nil:
		n.deliverNotification(env.Method, data)
	case env.Method != "" && env.ID != nil:
		n.deliverRequest(*env.ID, data, tctx)
	default:
		n.logger.Debug("dropping unrecognized message shape")
	}
}

func (n *Node) deliverResponse(id uint64, data []byte) {
	n.mu.Lock()
	sink, ok := n.pending[id]
	n.mu.Unlock()
	if !ok {
		n.logger.Debug("response with no pending call", "id", id)
		return
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		n.logger.Debug("dropping malformed response", "error", err)
		return
	}
	select {
	case sink <- &resp:
	default:
		n.logger.Warn("response sink full, dropping", "id", id)
	}
}

func (n *Node) deliverNotification(method string, data []byte) {
	var notif Notification
	if err := json.Unmarshal(data, &notif); err != nil {
		n.logger.Debug("dropping malformed notification", "error", err)
		return
	}

	n.mu.Lock()
	handlers := append([]func(Params){}, n.notifyHandlers[method]...)
	n.mu.Unlock()

	params := paramsFromRaw(notif.Params)
	for _, h := range handlers {
		h(params)
	}
}

func (n *Node) deliverRequest(id uint64, data []byte, tctx TransportContext) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		n.logger.Debug("dropping malformed request", "error", err)
		return
	}
	n.handleRequest(req, tctx)
}

func (n *Node) handleRequest(req Request, tctx TransportContext) {
	route, ok := n.routes[req.Method]
	if !ok || len(route) == 0 {
		if n.fallback != nil {
			n.runChain(req, tctx, []Handler{n.fallback})
			return
		}
		n.sendErrorResponse(req.ID, rerr.Newf(rerr.MethodNotSupported, "unknown method: %s", req.Method))
		return
	}

	var preMW []Handler
	for _, groupID := range route[:len(route)-1] {
		preMW = append(preMW, n.handlerChain[groupID]...)
	}
	terminal := n.handlerChain[req.Method]
	if len(terminal) == 0 {
		n.sendErrorResponse(req.ID, rerr.Newf(rerr.MethodNotSupported, "unknown method: %s", req.Method))
		return
	}

	chain := append(append([]Handler{}, preMW...), n.deserializeStep(req.Method))
	chain = append(chain, n.postDeserializationMW...)
	chain = append(chain, terminal...)

	n.runChain(req, tctx, chain)
}

func (n *Node) deserializeStep(method string) Handler {
	return func(ctx *Context) {
		if s, ok := n.serializers[method]; ok && s.DeserializeParams != nil {
			typed, err := s.DeserializeParams(ctx.Request.Params)
			if err != nil {
				ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
				ctx.Abort()
				return
			}
			ctx.Typed = typed
		}
		ctx.Next()
	}
}

func (n *Node) runChain(req Request, tctx TransportContext, chain []Handler) {
	ctx := newContext(context.Background(), req, tctx, chain, n.storage)
	ctx.Next()

	respBytes, err := ctx.GetRawResponse()
	if err != nil {
		n.logger.Error("failed to marshal response", "error", err, "method", req.Method)
		return
	}
	if err := n.transport.Send(context.Background(), respBytes); err != nil {
		n.logger.Error("failed to send response", "error", err, "method", req.Method)
	}
}

func (n *Node) sendErrorResponse(requestID uint64, err *rerr.Error) {
	resp := NewErrorResponse(requestID, &ErrorObject{Code: err.Code(), Message: err.Message, Data: err.Data})
	data, merr := json.Marshal(resp)
	if merr != nil {
		n.logger.Error("failed to marshal error response", "error", merr)
		return
	}
	if serr := n.transport.Send(context.Background(), data); serr != nil {
		n.logger.Error("failed to send error response", "error", serr)
	}
}

func (n *Node) handlePing(ctx *Context) {
	ctx.Next()
	ctx.Succeed(PongMethod.String())
}

// handlerGroup implements HandlerGroup for a nested set of handlers sharing
// middleware.
type handlerGroup struct {
	groupID     string
	routePrefix []string
	root        *Node
}

var _ HandlerGroup = (*handlerGroup)(nil)

func (g *handlerGroup) NewGroup(name string) HandlerGroup {
	return &handlerGroup{
		groupID:     fmt.Sprintf("%s.%s", g.groupID, name),
		routePrefix: append(append([]string{}, g.routePrefix...), g.groupID),
		root:        g.root,
	}
}

func (g *handlerGroup) Handle(method string, handler Handler) {
	if _, exists := g.root.routes[method]; exists {
		panic(fmt.Sprintf("rpc: method %s already registered", method))
	}
	g.root.routes[method] = append(append([]string{}, g.routePrefix...), g.groupID, method)
	g.root.handle(method, handler)
}

func (g *handlerGroup) Use(middleware Handler) {
	g.root.use(g.groupID, middleware)
}
