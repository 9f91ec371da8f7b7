package provider_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/approval"
	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/metrics"
	"github.com/walletmesh/router/pkg/permission"
	"github.com/walletmesh/router/pkg/provider"
	"github.com/walletmesh/router/pkg/rpc"
	"github.com/walletmesh/router/pkg/router"
	"github.com/walletmesh/router/pkg/session"
)

func allowAll(context.Context, permission.AskRequest) (bool, error) { return true, nil }

// newTestRouter wires a Router to a fakeTransport pair the same way
// pkg/router's own harness does, but hands the dApp side back as an
// *rpc.Node so a Provider can be built directly on top of it.
func newTestRouter(t *testing.T, cfg router.Config) (*rpc.Node, *router.Router, *router.Hub) {
	t.Helper()

	clientSide, routerSide := newFakeTransportPair("https://app.example", true, "router", true)
	clientNode := rpc.NewNode(clientSide, log.NewNop())
	t.Cleanup(func() { _ = clientNode.Close() })

	routerNode := rpc.NewNode(routerSide, log.NewNop())

	sessions := session.NewInMemoryStore(log.NewNop())
	perms := permission.NewAllowAskDenyManager(allowAll, log.NewNop())
	approvals := approval.New(time.Second, log.NewNop())
	hub := router.NewHub(log.NewNop())
	m := metrics.New(prometheus.NewRegistry())

	rt := router.New(cfg, routerNode, sessions, perms, approvals, hub, m, log.NewNop())
	t.Cleanup(func() { _ = rt.Close() })

	walletClientSide, walletRouterSide := rpc.NewLocalTransportPair("wallet-client", "wallet")
	walletNode := rpc.NewNode(walletClientSide, log.NewNop())
	t.Cleanup(func() { _ = walletNode.Close() })
	walletNode.Handle("eth_accounts", func(c *rpc.Context) {
		c.Succeed([]string{"0xabc"})
	})
	walletNode.Handle("eth_chainId", func(c *rpc.Context) {
		c.Succeed("0x1")
	})

	require.NoError(t, rt.AddWallet(chain.ID("eip155:1"), walletRouterSide, time.Second))

	return clientNode, rt, hub
}

func TestProviderConnectCallDisconnect(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	connectResult, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts"}}, time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, connectResult.SessionID)
	require.Equal(t, connectResult.SessionID, p.SessionID())
	require.Len(t, connectResult.Permissions["eip155:1"], 1)
	assert.True(t, connectResult.Permissions["eip155:1"][0].Granted)

	result, err := p.Call(ctx, "eip155:1", "eth_accounts", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{"0xabc"}, result)

	require.NoError(t, p.Disconnect(ctx, time.Second))
	assert.Empty(t, p.SessionID())

	_, err = p.Call(ctx, "eip155:1", "eth_accounts", nil, time.Second)
	require.Error(t, err)
}

func TestProviderChainBuilderSingleCallExecutesWmCall(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	_, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts"}}, time.Second)
	require.NoError(t, err)

	result, err := p.Chain("eip155:1").Call("eth_accounts", nil).Execute(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{"0xabc"}, result)
}

func TestProviderChainBuilderIsImmutable(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	_, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts", "eth_chainId"}}, time.Second)
	require.NoError(t, err)

	base := p.Chain("eip155:1").Call("eth_accounts", nil)
	branchA := base.Call("eth_chainId", nil)

	// base must still be a single call: executing it does not pick up the
	// eth_chainId call appended onto branchA.
	resultBase, err := base.Execute(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []any{"0xabc"}, resultBase)

	resultBranch, err := branchA.Execute(ctx, time.Second)
	require.NoError(t, err)
	results, ok := resultBranch.([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
}

func TestProviderBulkCallOrdersResults(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	_, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts", "eth_chainId"}}, time.Second)
	require.NoError(t, err)

	results, err := p.BulkCall(ctx, "eip155:1", []provider.MethodCall{
		{Method: "eth_accounts"},
		{Method: "eth_chainId"},
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []any{"0xabc"}, results[0])
	assert.Equal(t, "0x1", results[1])
}

func TestProviderGetPermissionsReflectsConnect(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	_, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts"}}, time.Second)
	require.NoError(t, err)

	perms, err := p.GetPermissions(ctx, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, perms["eip155:1"], 1)
	assert.Equal(t, "eth_accounts", perms["eip155:1"][0].Method)
	assert.True(t, perms["eip155:1"][0].Granted)
}

func TestProviderReconnectRestoresSession(t *testing.T) {
	t.Parallel()
	clientNode, _, _ := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	connectResult, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts"}}, time.Second)
	require.NoError(t, err)

	reconnectResult, err := p.Reconnect(ctx, connectResult.SessionID, time.Second)
	require.NoError(t, err)
	assert.True(t, reconnectResult.Status)
	assert.Equal(t, connectResult.SessionID, p.SessionID())
}

func TestProviderOnForwardsRouterEvents(t *testing.T) {
	t.Parallel()
	clientNode, _, hub := newTestRouter(t, router.Config{})
	p := provider.New(clientNode)

	ctx := context.Background()
	_, err := p.Connect(ctx, map[string][]string{"eip155:1": {"eth_accounts"}}, time.Second)
	require.NoError(t, err)

	received := make(chan rpc.Params, 1)
	p.On(router.EventWalletStateChanged, func(params rpc.Params) {
		received <- params
	})

	hub.Forward(chain.ID("eip155:1"), router.EventWalletStateChanged, rpc.Params{})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected provider to receive forwarded wallet state event")
	}
}
