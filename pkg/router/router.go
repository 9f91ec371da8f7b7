// Package router implements the Wallet Router: the component
// that owns a dApp-facing Node, one Proxy per configured chain backend, a
// PermissionManager, a SessionStore, and an ApprovalQueue, and wires them
// together behind the reserved wm_* method and event namespace.
package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/walletmesh/router/pkg/approval"
	chainpkg "github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/metrics"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/rerr"
	"github.com/walletmesh/router/pkg/rpc"
	"github.com/walletmesh/router/pkg/session"
)

// Reserved method and event names.
const (
	MethodConnect             = "wm_connect"
	MethodReconnect           = "wm_reconnect"
	MethodDisconnect          = "wm_disconnect"
	MethodGetPermissions      = "wm_getPermissions"
	MethodUpdatePermissions   = "wm_updatePermissions"
	MethodCallRPC             = "wm_call"
	MethodBulkCall            = "wm_bulkCall"
	MethodGetSupportedMethods = "wm_getSupportedMethods"

	EventWalletStateChanged        = "wm_walletStateChanged"
	EventPermissionsChanged        = "wm_permissionsChanged"
	EventSessionTerminated         = "wm_sessionTerminated"
	EventWalletAvailabilityChanged = "wm_walletAvailabilityChanged"
)

var reservedMethods = []string{
	MethodConnect, MethodReconnect, MethodDisconnect,
	MethodGetPermissions, MethodUpdatePermissions,
	MethodCallRPC, MethodBulkCall, MethodGetSupportedMethods,
}

// Config holds the tunables the router needs beyond its collaborators.
type Config struct {
	SessionTTL      time.Duration `env:"WALLETMESH_SESSION_TTL" env-default:"24h"`
	ApprovalTimeout time.Duration `env:"WALLETMESH_APPROVAL_TIMEOUT" env-default:"60s"`
	BulkCallCap     int           `env:"WALLETMESH_BULK_CALL_CAP" env-default:"50"`
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 60 * time.Second
	}
	if c.BulkCallCap <= 0 {
		c.BulkCallCap = 50
	}
	return c
}

type walletBackend struct {
	node  *rpc.Node
	proxy *rpc.Proxy
}

// Router is one instance of the Wallet Router bound to a single dApp-side
// Node. The session store, permission manager, approval queue, and hub are
// the shared, cross-instance collaborators — the only global mutable
// resources a Router instance touches.
type Router struct {
	connID string
	node   *rpc.Node

	hub         *Hub
	sessions    session.Store
	permissions permission.Manager
	approvals   *approval.Queue
	metrics     *metrics.Metrics
	log         log.Logger
	validate    *validator.Validate
	cfg         Config

	walletsMu sync.RWMutex
	wallets   map[chainpkg.ID]*walletBackend

	stateMu    sync.RWMutex
	origin     string
	sessionID  string
	permsCache map[chainpkg.ID]map[string]permission.State

	closeMu sync.Mutex
	closed  bool
}

// New builds a Router bound to node and registers every reserved wm_*
// method on it. hub may be nil, which disables cross-connection event
// forwarding — fine for a single-connection embedding.
func New(
	cfg Config,
	node *rpc.Node,
	sessions session.Store,
	permissions permission.Manager,
	approvals *approval.Queue,
	hub *Hub,
	metricsBundle *metrics.Metrics,
	lg log.Logger,
) *Router {
	if lg == nil {
		lg = log.NewNop()
	}
	v := validator.New()
	if err := chainpkg.RegisterValidation(v); err != nil {
		panic(fmt.Sprintf("router: failed to register caip2 validation: %v", err))
	}

	r := &Router{
		connID:      uuid.NewString(),
		node:        node,
		hub:         hub,
		sessions:    sessions,
		permissions: permissions,
		approvals:   approvals,
		metrics:     metricsBundle,
		log:         lg.WithName("router"),
		validate:    v,
		cfg:         cfg.withDefaults(),
		wallets:     make(map[chainpkg.ID]*walletBackend),
	}

	r.registerHandlers()
	return r
}

func (r *Router) registerHandlers() {
	r.node.Handle(MethodConnect, r.handleConnect)
	r.node.Handle(MethodReconnect, r.handleReconnect)
	r.node.Handle(MethodDisconnect, r.handleDisconnect)
	r.node.Handle(MethodGetPermissions, r.handleGetPermissions)
	r.node.Handle(MethodUpdatePermissions, r.handleUpdatePermissions)
	r.node.Handle(MethodCallRPC, r.handleCall)
	r.node.Handle(MethodBulkCall, r.handleBulkCall)
	r.node.Handle(MethodGetSupportedMethods, r.handleGetSupportedMethods)
}

// AddWallet registers a Proxy-backed wallet node for chainID, failing if
// one is already registered. It also subscribes to the four
// reserved events so they can be relayed through the Hub.
func (r *Router) AddWallet(chainID chainpkg.ID, transport rpc.Transport, defaultTimeout time.Duration) error {
	r.walletsMu.Lock()
	defer r.walletsMu.Unlock()
	if _, exists := r.wallets[chainID]; exists {
		return rerr.Newf(rerr.InvalidRequest, "chain %s is already registered", chainID.String())
	}

	walletNode := rpc.NewNode(transport, r.log.WithName("wallet." + chainID.String()))
	proxy := rpc.NewProxy(walletNode, defaultTimeout)

	for _, event := range []string{
		EventWalletStateChanged, EventPermissionsChanged,
		EventSessionTerminated, EventWalletAvailabilityChanged,
	} {
		event := event
		walletNode.On(event, func(p rpc.Params) {
			if r.hub != nil {
				r.hub.Forward(chainID, event, p)
			}
		})
	}

	r.wallets[chainID] = &walletBackend{node: walletNode, proxy: proxy}
	r.log.Info("wallet registered", "chain", chainID.String())
	return nil
}

// RemoveWallet unregisters chainID's wallet backend, emitting
// wm_walletAvailabilityChanged(chainID, false) to authorized sessions.
// It does not invalidate any session.
func (r *Router) RemoveWallet(chainID chainpkg.ID) error {
	r.walletsMu.Lock()
	_, exists := r.wallets[chainID]
	if !exists {
		r.walletsMu.Unlock()
		return rerr.Newf(rerr.UnknownChain, "chain %s is not registered", chainID.String())
	}
	delete(r.wallets, chainID)
	r.walletsMu.Unlock()

	if r.hub != nil {
		payload, _ := rpc.NewParams(map[string]any{"chain_id": chainID.String(), "available": false})
		r.hub.Forward(chainID, EventWalletAvailabilityChanged, payload)
	}
	r.log.Info("wallet removed", "chain", chainID.String())
	return nil
}

func (r *Router) resolveWallet(chainID chainpkg.ID) (*walletBackend, bool) {
	r.walletsMu.RLock()
	defer r.walletsMu.RUnlock()
	wb, ok := r.wallets[chainID]
	return wb, ok
}

// bindSession records origin/sessionID/permissions as this Router
// instance's current identity and registers it with the Hub for event
// forwarding. Called after a successful wm_connect or wm_reconnect.
func (r *Router) bindSession(origin, sessionID string, perms map[chainpkg.ID]map[string]permission.State) {
	r.stateMu.Lock()
	r.origin = origin
	r.sessionID = sessionID
	r.permsCache = perms
	r.stateMu.Unlock()

	if r.hub != nil {
		r.hub.register(r.connID, origin, r)
	}
}

func (r *Router) updateCachedPermissions(sessionID string, perms map[chainpkg.ID]map[string]permission.State) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.sessionID == sessionID {
		r.permsCache = perms
	}
}

// unbindSession clears this Router's current session identity, called on
// wm_disconnect and Close.
func (r *Router) unbindSession() {
	r.stateMu.Lock()
	origin := r.origin
	r.origin = ""
	r.sessionID = ""
	r.permsCache = nil
	r.stateMu.Unlock()

	if r.hub != nil && origin != "" {
		r.hub.unregister(r.connID, origin)
	}
}

func (r *Router) authorizedForChain(chainID chainpkg.ID) bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	methods, ok := r.permsCache[chainID]
	if !ok {
		return false
	}
	for _, state := range methods {
		if state != permission.Deny {
			return true
		}
	}
	return false
}

// PendingApprovals exposes the approval queue's introspection for a wallet
// UI).
func (r *Router) PendingApprovals() []approval.Context {
	return r.approvals.Pending()
}

// ResolveApproval exposes Queue.Resolve for a wallet UI to answer an
// AskUser decision.
func (r *Router) ResolveApproval(requestID uint64, approved bool) bool {
	ok := r.approvals.Resolve(requestID, approved)
	r.metrics.SetApprovalQueueDepth(r.approvals.PendingCount())
	return ok
}

// Close resolves as denied every pending approval whose origin matches
// this instance's own bound session, unbinds that session from the Hub,
// and closes the client-facing Node. The approval queue is shared across
// every Router instance in the process, so other connections' approvals
// are left untouched. Close does not close or unregister the wallet Nodes
// added with AddWallet; their transports stay open until the caller
// closes them.
func (r *Router) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()

	r.stateMu.RLock()
	origin := r.origin
	r.stateMu.RUnlock()

	if origin != "" {
		for _, actx := range r.approvals.Pending() {
			if actx.Origin == origin {
				r.approvals.Resolve(actx.RequestID, false)
			}
		}
		r.metrics.SetApprovalQueueDepth(r.approvals.PendingCount())
	}

	r.unbindSession()
	return r.node.Close()
}
