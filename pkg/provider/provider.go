// Package provider implements the client counterpart of the Wallet Router:
// the surface a dApp uses to drive a Router instance over its Node —
// connect/reconnect/disconnect, permission management, single and bulk
// calls, event subscription, and a chain-scoped OperationBuilder.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/walletmesh/router/pkg/rpc"
)

const defaultCallTimeout = 30 * time.Second

// Provider is the client-side counterpart of a router.Router: it wraps a
// Proxy-style view over the dApp-facing Node and hides JSON-RPC framing,
// session bookkeeping, and per-method serialization from the caller.
type Provider struct {
	proxy *rpc.Proxy
	node  *rpc.Node

	mu        sync.RWMutex
	sessionID string

	serializersMu sync.RWMutex
	serializers   map[string]rpc.Serializer

	defaultTimeout time.Duration
}

// Option configures a Provider.
type Option func(*Provider)

// WithSessionID seeds the provider with an already-established session id,
// for a persisted session restored without a fresh wm_connect.
func WithSessionID(id string) Option {
	return func(p *Provider) { p.sessionID = id }
}

// WithDefaultTimeout overrides the 30s default used when a call's timeout
// argument is 0.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Provider) { p.defaultTimeout = d }
}

// New builds a Provider bound to node, which must already be connected to a
// Router's Node (directly, or via a WebSocket/other Transport).
func New(node *rpc.Node, opts ...Option) *Provider {
	p := &Provider{
		node:           node,
		proxy:          rpc.NewProxy(node, defaultCallTimeout),
		serializers:    make(map[string]rpc.Serializer),
		defaultTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterMethodSerializer attaches a Serializer applied to a named
// wallet method's params/result whenever it crosses wm_call/wm_bulkCall,
// letting the provider expose strongly-typed wallet methods without the
// router itself knowing their shape.
func (p *Provider) RegisterMethodSerializer(method string, s rpc.Serializer) {
	p.serializersMu.Lock()
	defer p.serializersMu.Unlock()
	p.serializers[method] = s
}

func (p *Provider) serializerFor(method string) (rpc.Serializer, bool) {
	p.serializersMu.RLock()
	defer p.serializersMu.RUnlock()
	s, ok := p.serializers[method]
	return s, ok
}

// On subscribes handler to one of the four reserved router events.
func (p *Provider) On(event string, handler func(rpc.Params)) {
	p.node.On(event, handler)
}

// SessionID returns the session id currently bound to this provider, or ""
// before any successful Connect/Reconnect.
func (p *Provider) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

func (p *Provider) setSessionID(id string) {
	p.mu.Lock()
	p.sessionID = id
	p.mu.Unlock()
}

func (p *Provider) timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return p.defaultTimeout
	}
	return timeout
}

// ConnectResult mirrors router.ConnectResult's wire shape without importing
// the router package, keeping provider embeddable in a dApp bundle that
// never needs the server-side types.
type ConnectResult struct {
	SessionID   string             `json:"session_id"`
	Permissions map[string][]Grant `json:"permissions"`
}

// ReconnectResult mirrors router.ReconnectResult.
type ReconnectResult struct {
	Status      bool               `json:"status"`
	Permissions map[string][]Grant `json:"permissions"`
}

// Grant mirrors permission.Grant on the wire.
type Grant struct {
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
	Granted     bool   `json:"granted"`
}

// callParams is the wire shape of one call passed to wm_call/wm_bulkCall.
type callParams struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// MethodCall is one call to make through BulkCall, mirroring
// router.MethodCall's wire shape without importing the router package.
type MethodCall struct {
	Method string
	Params any
}

// Connect issues wm_connect, requesting the given per-chain method
// permissions, and stores the returned session id for subsequent calls.
func (p *Provider) Connect(ctx context.Context, permissions map[string][]string, timeout time.Duration) (ConnectResult, error) {
	var out ConnectResult
	res, err := p.proxy.Call(ctx, "wm_connect", map[string]any{"permissions": permissions}, p.timeoutOrDefault(timeout))
	if err != nil {
		return out, err
	}
	if err := decodeInto(res, &out); err != nil {
		return out, err
	}
	p.setSessionID(out.SessionID)
	return out, nil
}

// Reconnect issues wm_reconnect for sessionID (or the provider's stored
// session id if sessionID is empty).
func (p *Provider) Reconnect(ctx context.Context, sessionID string, timeout time.Duration) (ReconnectResult, error) {
	var out ReconnectResult
	if sessionID == "" {
		sessionID = p.SessionID()
	}
	res, err := p.proxy.Call(ctx, "wm_reconnect", map[string]any{"session_id": sessionID}, p.timeoutOrDefault(timeout))
	if err != nil {
		return out, err
	}
	if err := decodeInto(res, &out); err != nil {
		return out, err
	}
	p.setSessionID(sessionID)
	return out, nil
}

// Disconnect issues wm_disconnect for the provider's current session and
// clears it locally regardless of the router's response.
func (p *Provider) Disconnect(ctx context.Context, timeout time.Duration) error {
	sessionID := p.SessionID()
	_, err := p.proxy.Call(ctx, "wm_disconnect", map[string]any{"session_id": sessionID}, p.timeoutOrDefault(timeout))
	p.setSessionID("")
	return err
}

// GetPermissions issues wm_getPermissions, optionally filtered to chainIDs.
func (p *Provider) GetPermissions(ctx context.Context, chainIDs []string, timeout time.Duration) (map[string][]Grant, error) {
	res, err := p.proxy.Call(ctx, "wm_getPermissions", map[string]any{
		"session_id": p.SessionID(),
		"chain_ids":  chainIDs,
	}, p.timeoutOrDefault(timeout))
	if err != nil {
		return nil, err
	}
	var out map[string][]Grant
	if err := decodeInto(res, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdatePermissions issues wm_updatePermissions for the provider's session.
func (p *Provider) UpdatePermissions(ctx context.Context, permissions map[string][]string, timeout time.Duration) (map[string][]Grant, error) {
	res, err := p.proxy.Call(ctx, "wm_updatePermissions", map[string]any{
		"session_id":  p.SessionID(),
		"permissions": permissions,
	}, p.timeoutOrDefault(timeout))
	if err != nil {
		return nil, err
	}
	var out map[string][]Grant
	if err := decodeInto(res, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Call issues wm_call for a single (chainID, method, params) invocation,
// applying any registered method serializer to params and the result.
func (p *Provider) Call(ctx context.Context, chainID string, method string, params any, timeout time.Duration) (any, error) {
	wire, err := p.encodeCall(method, params)
	if err != nil {
		return nil, err
	}
	res, err := p.proxy.Call(ctx, "wm_call", map[string]any{
		"session_id": p.SessionID(),
		"chain_id":   chainID,
		"call":       wire,
	}, p.timeoutOrDefault(timeout))
	if err != nil {
		return nil, err
	}
	return p.decodeResult(method, res)
}

// BulkCall issues wm_bulkCall for chainID with the given calls, in order.
func (p *Provider) BulkCall(ctx context.Context, chainID string, calls []MethodCall, timeout time.Duration) ([]any, error) {
	wireCalls := make([]callParams, len(calls))
	for i, c := range calls {
		wire, err := p.encodeCall(c.Method, c.Params)
		if err != nil {
			return nil, fmt.Errorf("provider: encoding call %d (%s): %w", i, c.Method, err)
		}
		wireCalls[i] = wire
	}

	res, err := p.proxy.Call(ctx, "wm_bulkCall", map[string]any{
		"session_id": p.SessionID(),
		"chain_id":   chainID,
		"calls":      wireCalls,
	}, p.timeoutOrDefault(timeout))
	if err != nil {
		return nil, err
	}

	items, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("provider: unexpected wm_bulkCall result shape %T", res)
	}
	out := make([]any, len(items))
	for i, item := range items {
		method := ""
		if i < len(calls) {
			method = calls[i].Method
		}
		decoded, err := p.decodeResult(method, item)
		if err != nil {
			return nil, err
		}
		out[i] = decoded
	}
	return out, nil
}

// GetSupportedMethods issues wm_getSupportedMethods, optionally filtered to
// chainIDs.
func (p *Provider) GetSupportedMethods(ctx context.Context, chainIDs []string, timeout time.Duration) (any, error) {
	return p.proxy.Call(ctx, "wm_getSupportedMethods", map[string]any{"chain_ids": chainIDs}, p.timeoutOrDefault(timeout))
}

// Chain returns an OperationBuilder scoped to chainID.
func (p *Provider) Chain(chainID string) *OperationBuilder {
	return &OperationBuilder{provider: p, chainID: chainID}
}

func (p *Provider) encodeCall(method string, params any) (callParams, error) {
	if s, ok := p.serializerFor(method); ok && s.SerializeParams != nil {
		raw, err := s.SerializeParams(params)
		if err != nil {
			return callParams{}, fmt.Errorf("provider: serializing params for %s: %w", method, err)
		}
		return callParams{Method: method, Params: raw}, nil
	}
	return callParams{Method: method, Params: params}, nil
}

func (p *Provider) decodeResult(method string, res any) (any, error) {
	if s, ok := p.serializerFor(method); ok && s.DeserializeResult != nil {
		raw, err := rpc.RawParams(res)
		if err != nil {
			return nil, fmt.Errorf("provider: re-encoding result for %s: %w", method, err)
		}
		return s.DeserializeResult(raw)
	}
	return res, nil
}

func decodeInto(v any, out any) error {
	raw, err := rpc.RawParams(v)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
