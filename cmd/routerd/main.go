// Command routerd is a demo composition root for the Wallet Router: it
// accepts dApp WebSocket connections, dials the wallet backends named in
// wallets.yaml, and wires a fresh Router instance per connection around the
// shared session store, permission manager, approval queue, hub, and
// metrics registry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap/zapcore"

	"github.com/walletmesh/router/pkg/approval"
	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/metrics"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/router"
	"github.com/walletmesh/router/pkg/rpc"
	"github.com/walletmesh/router/pkg/session"
)

const pingLivenessInterval = 15 * time.Second

func main() {
	lg := log.New()

	cfg, err := LoadConfig(lg)
	if err != nil {
		fatal(lg, "failed to load configuration", "error", err)
	}

	lg = log.NewZapLogger(cfg.env.Log, zapcore.AddSync(os.Stdout))

	sessions, err := buildSessionStore(cfg, lg)
	if err != nil {
		fatal(lg, "failed to build session store", "error", err)
	}

	perms := permission.NewAllowAskDenyManager(approvalPolicy(cfg.env.AutoApprove), lg)
	approvals := approval.New(cfg.env.Router.ApprovalTimeout, lg)
	hub := router.NewHub(lg)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	srv := &app{
		cfg:       cfg,
		log:       lg,
		sessions:  sessions,
		perms:     perms,
		approvals: approvals,
		hub:       hub,
		metrics:   m,
	}

	rpcMux := http.NewServeMux()
	rpcMux.HandleFunc(cfg.env.WSPath, srv.handleConnection)

	rpcServer := &http.Server{Addr: cfg.env.ListenAddr, Handler: rpcMux}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/admin/approvals", srv.handlePendingApprovals)
	adminMux.HandleFunc("/admin/approvals/resolve", srv.handleResolveApproval)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: allowedOriginsOrAll(cfg.env.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(adminMux)
	rpcMux.Handle("/admin/", corsHandler)

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.env.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.env.MetricsListenAddr, Handler: metricsMux}

	go func() {
		lg.Info("metrics server listening", "addr", cfg.env.MetricsListenAddr, "path", cfg.env.MetricsPath)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		lg.Info("router server listening", "addr", cfg.env.ListenAddr, "path", cfg.env.WSPath, "wallets", len(cfg.wallets))
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(lg, "router server failure", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	lg.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.env.ShutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		lg.Error("failed to shut down metrics server", "error", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), cfg.env.ShutdownTimeout)
	defer cancel()
	if err := rpcServer.Shutdown(ctx); err != nil {
		lg.Error("failed to shut down router server", "error", err)
	}

	lg.Info("shutdown complete")
}

// app holds the collaborators shared by every Router instance this process
// creates — the session store, permission manager, approval queue, hub, and
// metrics bundle are process-global, unlike the Router and its client Node
// which are created fresh per connection.
type app struct {
	cfg       *Config
	log       log.Logger
	sessions  session.Store
	perms     permission.Manager
	approvals *approval.Queue
	hub       *router.Hub
	metrics   *metrics.Metrics
}

func (a *app) handleConnection(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !a.originAllowed(origin) {
		a.log.Warn("rejecting connection from disallowed origin", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	wsCfg := rpc.DefaultWebsocketTransportConfig
	wsCfg.CheckOrigin = func(r *http.Request) bool { return a.originAllowed(r.Header.Get("Origin")) }

	transport, err := rpc.AcceptWebsocket(w, r, origin, wsCfg, a.log)
	if err != nil {
		a.log.Error("failed to accept websocket", "error", err)
		return
	}

	clientNode := rpc.NewNode(transport, a.log)
	rt := router.New(a.cfg.env.Router, clientNode, a.sessions, a.perms, a.approvals, a.hub, a.metrics, a.log)

	walletTransports := a.dialWallets(rt)

	a.log.Info("connection established", "origin", origin, "wallets", len(walletTransports))
	a.waitForDisconnect(clientNode)

	if err := rt.Close(); err != nil {
		a.log.Error("error closing router", "error", err)
	}
	for chainID, wt := range walletTransports {
		if err := wt.Close(); err != nil {
			a.log.Error("error closing wallet transport", "chain", chainID.String(), "error", err)
		}
	}
	a.log.Info("connection closed", "origin", origin)
}

// dialWallets connects to every enabled wallets.yaml entry and registers it
// on rt, skipping (and logging) any endpoint that fails to dial rather than
// failing the whole connection. AddWallet wraps each transport in its own
// Node internally, so only the transport (not a second Node) needs to be
// kept here, for closing once the dApp connection ends.
func (a *app) dialWallets(rt *router.Router) map[chain.ID]rpc.Transport {
	transports := make(map[chain.ID]rpc.Transport, len(a.cfg.wallets))
	for _, w := range a.cfg.wallets {
		chainID, err := chain.Parse(w.ChainID)
		if err != nil {
			a.log.Error("skipping wallet with invalid chain id", "chain_id", w.ChainID, "error", err)
			continue
		}

		timeout := w.DefaultTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		transport, err := rpc.DialWebsocket(ctx, w.URL, rpc.DefaultWebsocketTransportConfig, a.log)
		cancel()
		if err != nil {
			a.log.Error("failed to dial wallet", "chain", chainID.String(), "url", w.URL, "error", err)
			continue
		}

		if err := rt.AddWallet(chainID, transport, timeout); err != nil {
			a.log.Error("failed to register wallet", "chain", chainID.String(), "error", err)
			_ = transport.Close()
			continue
		}
		transports[chainID] = transport
	}
	return transports
}

// waitForDisconnect blocks until node's transport stops answering pings,
// indicating the underlying connection dropped. The Transport interface has
// no close-notification hook of its own, so liveness is polled with the
// node's built-in ping handler instead.
func (a *app) waitForDisconnect(node *rpc.Node) {
	ticker := time.NewTicker(pingLivenessInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), pingLivenessInterval/2)
		_, err := node.Call(ctx, rpc.PingMethod.String(), nil, pingLivenessInterval/2)
		cancel()
		if err != nil {
			return
		}
	}
}

func (a *app) originAllowed(origin string) bool {
	if len(a.cfg.env.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range a.cfg.env.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}
	return false
}

func (a *app) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.approvals.Pending()); err != nil {
		a.log.Error("failed to encode pending approvals", "error", err)
	}
}

func (a *app) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := r.URL.Query().Get("request_id")
	approvedStr := r.URL.Query().Get("approved")
	requestID, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid request_id", http.StatusBadRequest)
		return
	}
	approved, err := strconv.ParseBool(approvedStr)
	if err != nil {
		http.Error(w, "invalid approved", http.StatusBadRequest)
		return
	}

	if !a.approvals.Resolve(requestID, approved) {
		http.Error(w, "no such pending approval", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildSessionStore(cfg *Config, lg log.Logger) (session.Store, error) {
	switch cfg.env.SessionStore {
	case "memory", "":
		return session.NewInMemoryStore(lg, session.WithSlidingWindow(cfg.env.Router.SessionTTL)), nil
	case "localstorage":
		return session.NewLocalStorageStore(session.NewMapKVBackend(), localStorageSigningKey(), lg,
			session.WithLocalStorageSlidingWindow(cfg.env.Router.SessionTTL)), nil
	case "sql":
		db, err := session.Connect(cfg.env.SessionDB)
		if err != nil {
			return nil, fmt.Errorf("routerd: connecting session database: %w", err)
		}
		return session.NewSQLSessionStore(db, lg, session.WithSQLSlidingWindow(cfg.env.Router.SessionTTL)), nil
	default:
		return nil, fmt.Errorf("routerd: unknown ROUTER_SESSION_STORE %q", cfg.env.SessionStore)
	}
}

func localStorageSigningKey() []byte {
	if key := os.Getenv("ROUTER_LOCALSTORAGE_KEY"); key != "" {
		return []byte(key)
	}
	return []byte("routerd-demo-signing-key")
}

// approvalPolicy returns the AskFunc this demo uses in place of an
// interactive wallet UI: grant every request when autoApprove is set,
// otherwise deny every request needing a live decision.
func approvalPolicy(autoApprove bool) permission.AskFunc {
	return func(_ context.Context, _ permission.AskRequest) (bool, error) {
		return autoApprove, nil
	}
}

func allowedOriginsOrAll(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func fatal(lg log.Logger, msg string, kv ...any) {
	lg.Error(msg, kv...)
	os.Exit(1)
}
