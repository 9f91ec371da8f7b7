package router

import (
	"context"
	"errors"
	"time"

	"github.com/walletmesh/router/pkg/approval"
	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/rerr"
	"github.com/walletmesh/router/pkg/rpc"
)

// handleCall implements wm_call: the single-call path through
// session resolution, permission check (live or approval-gated), and
// downstream dispatch.
func (r *Router) handleCall(ctx *rpc.Context) {
	ctx.Next()
	start := time.Now()
	var params CallParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	chainID, err := chain.Parse(params.ChainID)
	if err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid chain id", err))
		return
	}

	result, err := r.doCall(ctx, params.SessionID, chainID, nil, params.Call)
	r.metrics.ObserveDispatchLatency(MethodCallRPC, time.Since(start).Seconds())
	if err != nil {
		ctx.Fail(err)
		return
	}
	ctx.Succeed(result)
}

// handleBulkCall implements wm_bulkCall: every sub-call is
// permission-checked against the *same* permission snapshot taken before
// the first sub-call runs, so a concurrent wm_updatePermissions cannot
// change the authorization outcome partway through one bulk request — the
// monotone-permissions guarantee. Sub-calls run sequentially in order;
// results line up positionally with the input, each either a value or an
// error, and the overall response is PartialFailure iff at least one
// sub-call failed, including when every sub-call failed.
func (r *Router) handleBulkCall(ctx *rpc.Context) {
	ctx.Next()
	start := time.Now()
	var params BulkCallParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if len(params.Calls) > r.cfg.BulkCallCap {
		ctx.Fail(rerr.Newf(rerr.InvalidRequest, "wm_bulkCall accepts at most %d calls, got %d", r.cfg.BulkCallCap, len(params.Calls)))
		return
	}

	chainID, err := chain.Parse(params.ChainID)
	if err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid chain id", err))
		return
	}

	rec, ok := r.sessions.Get(params.SessionID)
	if !ok || rec.Origin != ctx.TransportCtx.Origin {
		ctx.Fail(rerr.New(rerr.InvalidSession, "unknown, expired, or wrong-origin session"))
		return
	}
	snapshot := rec.Permissions

	results := make([]any, len(params.Calls))
	failures := 0
	for i, call := range params.Calls {
		v, cerr := r.doCall(ctx, params.SessionID, chainID, snapshot, call)
		if cerr != nil {
			failures++
			re := rerr.Classify(cerr)
			results[i] = map[string]any{"error": map[string]any{"code": re.Code(), "message": re.Message, "data": re.Data}}
			continue
		}
		results[i] = v
	}

	r.metrics.ObserveBulkCall(failures > 0)
	r.metrics.ObserveDispatchLatency(MethodBulkCall, time.Since(start).Seconds())

	switch {
	case failures == 0:
		ctx.Succeed(results)
	case failures == len(results):
		ctx.Fail(rerr.New(rerr.PartialFailure, "all calls in this bulk request failed").WithData(map[string]any{"results": results}))
	default:
		ctx.Fail(rerr.New(rerr.PartialFailure, "some calls in this bulk request failed").WithData(map[string]any{"results": results}))
	}
}

// doCall resolves sessionID/chainID/call.Method through the permission
// manager (or, when snapshot is non-nil, the frozen permission table a
// wm_bulkCall took at the start of its run) and forwards the call to the
// chain's wallet backend, classifying any failure along the way.
func (r *Router) doCall(ctx *rpc.Context, sessionID string, chainID chain.ID, snapshot map[chain.ID]map[string]permission.State, call MethodCall) (any, error) {
	rec, ok := r.sessions.Get(sessionID)
	if !ok || rec.Origin != ctx.TransportCtx.Origin {
		return nil, rerr.New(rerr.InvalidSession, "unknown, expired, or wrong-origin session")
	}

	wb, ok := r.resolveWallet(chainID)
	if !ok {
		return nil, rerr.Newf(rerr.UnknownChain, "chain %s is not registered", chainID.String())
	}

	decision := r.decide(rec.Origin, chainID, call.Method, snapshot)
	switch decision {
	case permission.Denied:
		r.metrics.ObservePermissionDecision("denied")
		return nil, rerr.Newf(rerr.InsufficientPermissions, "method %s is not permitted on chain %s", call.Method, chainID.String())
	case permission.AskUser:
		approved, err := r.approve(ctx, rec.Origin, chainID, call)
		if err != nil {
			return nil, err
		}
		r.metrics.ObservePermissionDecision("ask_user")
		if !approved {
			return nil, rerr.Newf(rerr.InsufficientPermissions, "method %s was denied for chain %s", call.Method, chainID.String())
		}
	default:
		r.metrics.ObservePermissionDecision("allowed")
	}

	result, err := wb.proxy.Call(ctx, call.Method, call.Params, 0)
	if err != nil {
		return nil, classifyDownstreamError(err)
	}
	return result, nil
}

// decide resolves a (origin, chain, method) permission either against the
// live manager, or, when snapshot is non-nil, against the frozen table —
// never both, so a bulk call's authorization never drifts mid-run.
func (r *Router) decide(origin string, chainID chain.ID, method string, snapshot map[chain.ID]map[string]permission.State) permission.Decision {
	if snapshot == nil {
		return r.permissions.CheckPermission(origin, chainID, method)
	}
	state, ok := snapshot[chainID][method]
	if !ok {
		return permission.AskUser
	}
	switch state {
	case permission.Allow:
		return permission.Allowed
	case permission.Deny:
		return permission.Denied
	default:
		return permission.AskUser
	}
}

// approve queues an approval request and blocks until the wallet UI
// resolves it, the configured timeout elapses, or ctx is cancelled.
func (r *Router) approve(ctx *rpc.Context, origin string, chainID chain.ID, call MethodCall) (bool, error) {
	actx := approval.Context{
		RequestID: ctx.Request.ID,
		ChainID:   chainID,
		Method:    call.Method,
		Params:    call.Params,
		Origin:    origin,
	}
	approved, err := r.approvals.Queue(ctx, actx, r.cfg.ApprovalTimeout)
	r.metrics.SetApprovalQueueDepth(r.approvals.PendingCount())
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrTimeout):
			return false, rerr.Newf(rerr.RequestTimeout, "approval for %s timed out", call.Method)
		case errors.Is(err, approval.ErrCancelled),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			return false, rerr.Newf(rerr.RequestTimeout, "approval for %s was cancelled", call.Method)
		default:
			return false, rerr.Wrap(rerr.UnknownError, "approval queue failure", err)
		}
	}
	return approved, nil
}

// classifyDownstreamError rewraps a wallet-backend failure under the
// nearest router kind, preserving the original code/message under
// data.cause. A *rpc.ErrorObject whose code matches
// the router's own MethodNotSupported is reclassified as such; any other
// structured error becomes UnknownError; a non-structured (transport
// level) failure becomes WalletNotAvailable.
func classifyDownstreamError(err error) *rerr.Error {
	var eo *rpc.ErrorObject
	if errors.As(err, &eo) {
		kind := rerr.UnknownError
		if eo.Code == rerr.New(rerr.MethodNotSupported, "").Code() {
			kind = rerr.MethodNotSupported
		}
		return rerr.New(kind, "downstream wallet returned an error").WithData(map[string]any{
			"cause": map[string]any{"code": eo.Code, "message": eo.Message},
		})
	}
	return rerr.Wrap(rerr.WalletNotAvailable, "wallet backend is unavailable", err)
}
