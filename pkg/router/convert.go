package router

import (
	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/rerr"
)

// parseChainPermissions turns the wire shape {chain_id_string: [method,...]}
// into {chain.ID: [method,...]}, failing UnknownChain on an unrecognized
// chain or InvalidRequest on a malformed CAIP-2 string.
func (r *Router) parseChainPermissions(in map[string][]string) (map[chain.ID][]string, error) {
	out := make(map[chain.ID][]string, len(in))
	for raw, methods := range in {
		id, err := chain.Parse(raw)
		if err != nil {
			return nil, rerr.Wrap(rerr.InvalidRequest, "invalid chain id", err)
		}
		if _, ok := r.resolveWallet(id); !ok {
			return nil, rerr.Newf(rerr.UnknownChain, "chain %s is not registered", raw)
		}
		out[id] = methods
	}
	return out, nil
}

// grantsToWire converts the manager's chain.ID-keyed grant map into the
// string-keyed shape the wire protocol carries.
func grantsToWire(in map[chain.ID][]permission.Grant) map[string][]permission.Grant {
	out := make(map[string][]permission.Grant, len(in))
	for id, grants := range in {
		out[id.String()] = grants
	}
	return out
}

// mergePermissions layers updates (granted→Allow, denied→Deny) onto base,
// returning a new map so callers never mutate a session record's
// permissions out from under a concurrent reader.
func mergePermissions(base map[chain.ID]map[string]permission.State, updates map[chain.ID][]permission.Grant) map[chain.ID]map[string]permission.State {
	out := make(map[chain.ID]map[string]permission.State, len(base))
	for id, methods := range base {
		m := make(map[string]permission.State, len(methods))
		for method, state := range methods {
			m[method] = state
		}
		out[id] = m
	}
	for id, grants := range updates {
		if out[id] == nil {
			out[id] = make(map[string]permission.State)
		}
		for _, g := range grants {
			if g.Granted {
				out[id][g.Method] = permission.Allow
			} else {
				out[id][g.Method] = permission.Deny
			}
		}
	}
	return out
}

// sessionPermissionsToGrants renders a session's stored permission table
// as the human-readable grant shape used by wm_getPermissions/
// wm_reconnect, without re-invoking the permission manager.
func sessionPermissionsToGrants(perms map[chain.ID]map[string]permission.State, filter map[chain.ID]bool) map[chain.ID][]permission.Grant {
	out := make(map[chain.ID][]permission.Grant, len(perms))
	for id, methods := range perms {
		if filter != nil && !filter[id] {
			continue
		}
		grants := make([]permission.Grant, 0, len(methods))
		for method, state := range methods {
			grants = append(grants, permission.Grant{Method: method, Granted: state == permission.Allow})
		}
		out[id] = grants
	}
	return out
}
