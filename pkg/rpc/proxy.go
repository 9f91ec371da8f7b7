package rpc

import (
	"context"
	"fmt"
	"time"
)

// Proxy is a Node seen from the caller's side: a plain call(method, params)
// → result surface that hides request framing, correlation, and
// serialization from whoever is forwarding work into it. The router uses
// one Proxy per configured chain backend so it never needs to know how
// that backend encodes its methods.
type Proxy struct {
	node           *Node
	defaultTimeout time.Duration
}

// NewProxy wraps node as a Proxy. defaultTimeout is used by Call when the
// caller passes 0.
func NewProxy(node *Node, defaultTimeout time.Duration) *Proxy {
	return &Proxy{node: node, defaultTimeout: defaultTimeout}
}

// Call serializes params (via any Serializer registered on the underlying
// Node for method), issues the request, and deserializes the result.
func (p *Proxy) Call(ctx context.Context, method string, params any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	resp, err := p.node.Call(ctx, method, params, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	if s, ok := p.node.serializers[method]; ok && s.DeserializeResult != nil {
		return s.DeserializeResult(resp.Result)
	}
	return defaultDeserializeResult(resp.Result)
}

// SupportedMethods asks the backend for its capability list via the
// reserved "rpc_supportedMethods" method. Backends that don't implement it
// return an error the caller should treat as "unknown".
func (p *Proxy) SupportedMethods(ctx context.Context, timeout time.Duration) ([]string, error) {
	result, err := p.Call(ctx, "rpc_supportedMethods", nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: querying supported methods: %w", err)
	}
	items, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("rpc: unexpected supported-methods shape %T", result)
	}
	methods := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			methods = append(methods, s)
		}
	}
	return methods, nil
}

// Close closes the underlying Node/Transport.
func (p *Proxy) Close() error {
	return p.node.Close()
}
