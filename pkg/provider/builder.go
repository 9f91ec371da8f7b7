package provider

import (
	"context"
	"time"
)

// OperationBuilder accumulates calls against one chain before executing them
// as a single wm_call (one accumulated call) or wm_bulkCall (more than one).
// Every Call returns a new builder rather than mutating the receiver, so a
// partially-built chain of calls can be safely branched and reused.
type OperationBuilder struct {
	provider *Provider
	chainID  string
	calls    []MethodCall
}

// Call appends method/params to the chain, returning a new builder.
func (b *OperationBuilder) Call(method string, params any) *OperationBuilder {
	calls := make([]MethodCall, len(b.calls), len(b.calls)+1)
	copy(calls, b.calls)
	calls = append(calls, MethodCall{Method: method, Params: params})
	return &OperationBuilder{provider: b.provider, chainID: b.chainID, calls: calls}
}

// Execute issues the accumulated calls: a single call goes out as wm_call,
// with its result returned directly (not wrapped in a slice); two or more
// go out as one wm_bulkCall, returning the full, positionally-ordered slice
// of results.
func (b *OperationBuilder) Execute(ctx context.Context, timeout time.Duration) (any, error) {
	switch len(b.calls) {
	case 0:
		return nil, nil
	case 1:
		c := b.calls[0]
		return b.provider.Call(ctx, b.chainID, c.Method, c.Params, timeout)
	default:
		return b.provider.BulkCall(ctx, b.chainID, b.calls, timeout)
	}
}
