package router

import (
	"sync"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/rpc"
)

// Hub broadcasts wallet-originated events to every Router
// instance whose current session is authorized for the originating chain.
// One Router instance serves one dApp connection; Hub is the structure
// shared across all of them: origin stands in for a connection hub's usual
// UserID, and Router stands in for its Connection.
type Hub struct {
	mu    sync.RWMutex
	byOrg map[string]map[string]*Router // origin -> connID -> router

	log log.Logger
}

// NewHub builds an empty Hub.
func NewHub(lg log.Logger) *Hub {
	if lg == nil {
		lg = log.NewNop()
	}
	return &Hub{
		byOrg: make(map[string]map[string]*Router),
		log:   lg.WithName("router.hub"),
	}
}

func (h *Hub) register(connID, origin string, r *Router) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOrg[origin] == nil {
		h.byOrg[origin] = make(map[string]*Router)
	}
	h.byOrg[origin][connID] = r
}

func (h *Hub) unregister(connID, origin string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.byOrg[origin]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.byOrg, origin)
	}
}

// Forward relays a wallet event to every registered Router whose current
// session holds any non-Deny permission on chainID — the same session
// isolation wm_call applies, now for server-initiated events.
func (h *Hub) Forward(chainID chain.ID, event string, payload rpc.Params) {
	h.mu.RLock()
	routers := make([]*Router, 0)
	for _, conns := range h.byOrg {
		for _, r := range conns {
			routers = append(routers, r)
		}
	}
	h.mu.RUnlock()

	for _, r := range routers {
		if !r.authorizedForChain(chainID) {
			continue
		}
		if err := r.node.Emit(event, payload); err != nil {
			h.log.Warn("failed to forward event", "event", event, "chain", chainID.String(), "error", err.Error())
		}
	}
}
