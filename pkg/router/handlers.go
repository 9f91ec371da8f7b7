package router

import (
	"time"

	"github.com/google/uuid"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/rerr"
	"github.com/walletmesh/router/pkg/rpc"
	"github.com/walletmesh/router/pkg/session"
)

// handleConnect implements wm_connect: establish a new session for
// a trusted origin, resolving every requested (chain, method) pair through
// the permission manager.
func (r *Router) handleConnect(ctx *rpc.Context) {
	ctx.Next()
	if !ctx.TransportCtx.Trusted {
		ctx.Fail(rerr.New(rerr.InvalidRequest, "wm_connect requires a trusted transport origin"))
		return
	}
	origin := ctx.TransportCtx.Origin
	if origin == "" {
		ctx.Fail(rerr.New(rerr.InvalidRequest, "wm_connect requires a non-empty origin"))
		return
	}

	var params ConnectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	requested, err := r.parseChainPermissions(params.Permissions)
	if err != nil {
		ctx.Fail(err)
		return
	}

	grants, err := r.permissions.UpdatePermissions(ctx.Context, origin, requested)
	if err != nil {
		ctx.Fail(rerr.Wrap(rerr.UnknownError, "permission update failed", err))
		return
	}

	now := r.now()
	rec := session.Record{
		SessionID:    "session_" + uuid.NewString(),
		Origin:       origin,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(r.cfg.SessionTTL),
		Permissions:  grantsToPermissionTable(grants),
	}
	if err := r.sessions.Set(rec.SessionID, rec); err != nil {
		ctx.Fail(rerr.Wrap(rerr.UnknownError, "failed to persist session", err))
		return
	}

	r.bindSession(origin, rec.SessionID, rec.Permissions)
	r.metrics.SetSessionsActive(len(r.sessions.All()))

	ctx.Succeed(ConnectResult{SessionID: rec.SessionID, Permissions: grantsToWire(grants)})
}

// handleReconnect implements wm_reconnect. Origin equality between
// the current transport context and the stored session is mandated.
func (r *Router) handleReconnect(ctx *rpc.Context) {
	ctx.Next()
	if !ctx.TransportCtx.Trusted {
		ctx.Fail(rerr.New(rerr.InvalidRequest, "wm_reconnect requires a trusted transport origin"))
		return
	}

	var params ReconnectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	rec, ok := r.sessions.ValidateAndRefresh(params.SessionID)
	if !ok || rec.Origin != ctx.TransportCtx.Origin {
		ctx.Fail(rerr.New(rerr.InvalidSession, "unknown, expired, or wrong-origin session"))
		return
	}

	r.bindSession(rec.Origin, rec.SessionID, rec.Permissions)
	grants := sessionPermissionsToGrants(rec.Permissions, nil)
	ctx.Succeed(ReconnectResult{Status: true, Permissions: grantsToWire(grants)})
}

// handleDisconnect implements wm_disconnect: terminate the session
// and notify the dApp side with wm_sessionTerminated.
func (r *Router) handleDisconnect(ctx *rpc.Context) {
	ctx.Next()
	var params DisconnectParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	_, existed := r.sessions.Get(params.SessionID)
	if err := r.sessions.Delete(params.SessionID); err != nil {
		ctx.Fail(rerr.Wrap(rerr.UnknownError, "failed to delete session", err))
		return
	}

	r.unbindSession()
	r.metrics.SetSessionsActive(len(r.sessions.All()))

	if existed {
		payload, _ := rpc.NewParams(map[string]any{"session_id": params.SessionID, "reason": "disconnected"})
		_ = r.node.Emit(EventSessionTerminated, payload)
	}
	ctx.Succeed(true)
}

// handleGetPermissions implements wm_getPermissions: return the
// session's stored permission snapshot, optionally filtered to chain_ids.
func (r *Router) handleGetPermissions(ctx *rpc.Context) {
	ctx.Next()
	var params GetPermissionsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	rec, ok := r.sessions.Get(params.SessionID)
	if !ok {
		ctx.Fail(rerr.New(rerr.InvalidSession, "unknown or expired session"))
		return
	}

	var filter map[chain.ID]bool
	if len(params.ChainIDs) > 0 {
		filter = make(map[chain.ID]bool, len(params.ChainIDs))
		for _, raw := range params.ChainIDs {
			id, err := chain.Parse(raw)
			if err != nil {
				ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid chain id", err))
				return
			}
			filter[id] = true
		}
	}

	grants := sessionPermissionsToGrants(rec.Permissions, filter)
	ctx.Succeed(grantsToWire(grants))
}

// handleUpdatePermissions implements wm_updatePermissions: widen or
// narrow a live session's grants, persisting the merged table and emitting
// wm_permissionsChanged.
func (r *Router) handleUpdatePermissions(ctx *rpc.Context) {
	ctx.Next()
	var params UpdatePermissionsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}
	if err := r.validate.Struct(params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	rec, ok := r.sessions.Get(params.SessionID)
	if !ok {
		ctx.Fail(rerr.New(rerr.InvalidSession, "unknown or expired session"))
		return
	}

	requested, err := r.parseChainPermissions(params.Permissions)
	if err != nil {
		ctx.Fail(err)
		return
	}

	grants, err := r.permissions.UpdatePermissions(ctx.Context, rec.Origin, requested)
	if err != nil {
		ctx.Fail(rerr.Wrap(rerr.UnknownError, "permission update failed", err))
		return
	}

	rec = rec.Clone()
	rec.Permissions = mergePermissions(rec.Permissions, grants)
	rec.LastActiveAt = r.now()
	if err := r.sessions.Set(rec.SessionID, rec); err != nil {
		ctx.Fail(rerr.Wrap(rerr.UnknownError, "failed to persist session", err))
		return
	}
	r.updateCachedPermissions(rec.SessionID, rec.Permissions)

	wire := grantsToWire(grants)
	payload, _ := rpc.NewParams(map[string]any{"session_id": rec.SessionID, "permissions": wire})
	_ = r.node.Emit(EventPermissionsChanged, payload)

	ctx.Succeed(wire)
}

// handleGetSupportedMethods implements wm_getSupportedMethods.
// With no chain_ids it returns the router's own reserved methods; with
// chain_ids it asks each named backend for its capability list.
func (r *Router) handleGetSupportedMethods(ctx *rpc.Context) {
	ctx.Next()
	var params GetSupportedMethodsParams
	if err := ctx.BindParams(&params); err != nil {
		ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid params", err))
		return
	}

	if len(params.ChainIDs) == 0 {
		ctx.Succeed(reservedMethods)
		return
	}

	out := make(map[string][]string, len(params.ChainIDs))
	for _, raw := range params.ChainIDs {
		id, err := chain.Parse(raw)
		if err != nil {
			ctx.Fail(rerr.Wrap(rerr.InvalidRequest, "invalid chain id", err))
			return
		}
		wb, ok := r.resolveWallet(id)
		if !ok {
			ctx.Fail(rerr.Newf(rerr.UnknownChain, "chain %s is not registered", raw))
			return
		}
		methods, err := wb.proxy.SupportedMethods(ctx.Context, 5*time.Second)
		if err != nil {
			ctx.Fail(rerr.Wrap(rerr.WalletNotAvailable, "wallet unavailable", err))
			return
		}
		out[raw] = methods
	}
	ctx.Succeed(out)
}

func (r *Router) now() time.Time {
	return time.Now()
}

func grantsToPermissionTable(grants map[chain.ID][]permission.Grant) map[chain.ID]map[string]permission.State {
	out := make(map[chain.ID]map[string]permission.State, len(grants))
	for id, gs := range grants {
		m := make(map[string]permission.State, len(gs))
		for _, g := range gs {
			if g.Granted {
				m[g.Method] = permission.Allow
			} else {
				m[g.Method] = permission.Deny
			}
		}
		out[id] = m
	}
	return out
}
