// Package permission implements the router's permission manager:
// a per-(origin, chain, method) policy table with an Allow/Ask/Deny state
// and a user-supplied callback for resolving Ask decisions during a
// permission update.
package permission

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
)

// State is a stored policy value for one (origin, chain, method) triple.
type State string

const (
	Allow State = "allow"
	Ask   State = "ask"
	Deny  State = "deny"
)

// Decision is the outcome of a CheckPermission call. It is distinct from
// State: AskUser is never itself stored, it just tells the caller to go
// through the approval queue.
type Decision string

const (
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
	AskUser Decision = "ask_user"
)

func (s State) decision() Decision {
	switch s {
	case Allow:
		return Allowed
	case Deny:
		return Denied
	default:
		return AskUser
	}
}

// AskRequest describes the call a manager wants the host to approve while
// running UpdatePermissions. It is a smaller, update-time cousin of the
// router's transient approval context, not the same type: an Ask
// here is about granting a (chain, method) pair going forward, not about
// approving one in-flight call.
type AskRequest struct {
	Origin      string
	Chain       chain.ID
	Method      string
	Description string
}

// AskFunc is invoked once per (chain, method) pair that needs a live
// decision during UpdatePermissions. A nil error with ok=false means the
// user denied; a non-nil error aborts the whole update.
type AskFunc func(ctx context.Context, req AskRequest) (bool, error)

// Grant is one entry of the human-readable record UpdatePermissions
// returns and the router persists into the session.
type Grant struct {
	Method      string `json:"method"`
	Description string `json:"description,omitempty"`
	Granted     bool   `json:"granted"`
}

// Manager is the contract every permission manager implementation
// satisfies.
type Manager interface {
	// CheckPermission returns the stored decision for (origin, chain,
	// method). An unset triple is AskUser: the router must go through the
	// approval queue rather than assume a default.
	CheckPermission(origin string, chainID chain.ID, method string) Decision

	// UpdatePermissions asks for a live decision on every requested
	// (chain, method) pair that is not already Allow, and persists the
	// outcome. The returned map mirrors the input chains, in the input
	// method order.
	UpdatePermissions(ctx context.Context, origin string, requested map[chain.ID][]string) (map[chain.ID][]Grant, error)
}

type key struct {
	origin string
	chain  chain.ID
	method string
}

// AllowAskDenyManager is the reference Manager: an in-memory
// map<(origin,chain,method), State> plus a caller-supplied ask callback.
// It never remembers an AskUser decision across calls — see CheckPermission.
type AllowAskDenyManager struct {
	mu    sync.RWMutex
	table map[key]State
	ask   AskFunc
	log   log.Logger
}

var _ Manager = (*AllowAskDenyManager)(nil)

// NewAllowAskDenyManager builds a manager with an empty policy table.
func NewAllowAskDenyManager(ask AskFunc, lg log.Logger) *AllowAskDenyManager {
	if lg == nil {
		lg = log.NewNop()
	}
	return &AllowAskDenyManager{
		table: make(map[key]State),
		ask:   ask,
		log:   lg.WithName("permission"),
	}
}

func (m *AllowAskDenyManager) CheckPermission(origin string, chainID chain.ID, method string) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.table[key{origin, chainID, method}]
	if !ok {
		return AskUser
	}
	return state.decision()
}

// SetState directly sets a policy entry, used by the router to restore a
// manager's table from a persisted session's permission map.
func (m *AllowAskDenyManager) SetState(origin string, chainID chain.ID, method string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[key{origin, chainID, method}] = state
}

func (m *AllowAskDenyManager) UpdatePermissions(ctx context.Context, origin string, requested map[chain.ID][]string) (map[chain.ID][]Grant, error) {
	out := make(map[chain.ID][]Grant, len(requested))

	for chainID, methods := range requested {
		grants := make([]Grant, 0, len(methods))
		for _, method := range methods {
			k := key{origin, chainID, method}

			m.mu.RLock()
			current, known := m.table[k]
			m.mu.RUnlock()

			granted := known && current == Allow
			if !granted {
				ok, err := m.invokeAsk(ctx, origin, chainID, method)
				if err != nil {
					return nil, err
				}
				granted = ok
			}

			newState := Deny
			if granted {
				newState = Allow
			}
			m.mu.Lock()
			m.table[k] = newState
			m.mu.Unlock()

			m.log.Debug("permission updated", "origin", origin, "chain", chainID.String(), "method", method, "granted", granted)
			grants = append(grants, Grant{Method: method, Granted: granted})
		}
		out[chainID] = grants
	}

	return out, nil
}

func (m *AllowAskDenyManager) invokeAsk(ctx context.Context, origin string, chainID chain.ID, method string) (bool, error) {
	if m.ask == nil {
		// No callback configured: nothing to widen, the request is denied.
		return false, nil
	}
	return m.ask(ctx, AskRequest{Origin: origin, Chain: chainID, Method: method})
}

// MarshalPermissionTable encodes a session's permission map (chain → method
// → state) as JSON, the same shape SQLSessionStore stores in its
// permissions column. wm_getPermissions returns per-chain grant lists
// instead of this shape.
func MarshalPermissionTable(perms map[chain.ID]map[string]State) (json.RawMessage, error) {
	return json.Marshal(perms)
}
