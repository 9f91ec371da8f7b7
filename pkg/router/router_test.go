package router_test

import (
	"context"
	"encoding/json"
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
	"github.com/walletmesh/router/pkg/rerr"
	"github.com/walletmesh/router/pkg/router"
	"github.com/walletmesh/router/pkg/rpc"
	"github.com/walletmesh/router/pkg/session"
)

const testOriginA = "https://app.example"
const testOriginB = "https://other.example"

// testHarness wires a single Router instance to an in-process dApp client
// and a wallet backend for eip155:1, so tests drive the reserved wm_*
// surface exactly as a real client would.
type testHarness struct {
	t      *testing.T
	client *rpc.Node
	rt     *router.Router
	hub    *router.Hub

	clientTransport *fakeTransport
}

func newHarness(t *testing.T, ask permission.AskFunc, cfg router.Config) *testHarness {
	t.Helper()

	clientSide, routerSide := newFakeTransportPair(testOriginA, true, "router", true)
	client := rpc.NewNode(clientSide, log.NewNop())
	t.Cleanup(func() { _ = client.Close() })

	routerNode := rpc.NewNode(routerSide, log.NewNop())

	sessions := session.NewInMemoryStore(log.NewNop())
	perms := permission.NewAllowAskDenyManager(ask, log.NewNop())
	approvals := approval.New(200*time.Millisecond, log.NewNop())
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
	walletNode.Handle("eth_sign", func(c *rpc.Context) {
		c.Succeed("0xsig")
	})

	require.NoError(t, rt.AddWallet(chain.ID("eip155:1"), walletRouterSide, time.Second))

	return &testHarness{t: t, client: client, rt: rt, hub: hub, clientTransport: clientSide}
}

func (h *testHarness) call(method string, params any) (*rpc.Response, error) {
	h.t.Helper()
	return h.client.Call(context.Background(), method, params, time.Second)
}

func allowAll(context.Context, permission.AskRequest) (bool, error) { return true, nil }
func denyAll(context.Context, permission.AskRequest) (bool, error)  { return false, nil }

func TestConnectCallDisconnectHappyPath(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))
	require.NotEmpty(t, connectResult.SessionID)
	require.Len(t, connectResult.Permissions["eip155:1"], 1)
	assert.True(t, connectResult.Permissions["eip155:1"][0].Granted)

	resp, err = h.call(router.MethodCallRPC, router.CallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `["0xabc"]`, string(resp.Result))

	resp, err = h.call(router.MethodDisconnect, router.DisconnectParams{SessionID: connectResult.SessionID})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `true`, string(resp.Result))

	resp, err = h.call(router.MethodCallRPC, router.CallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.InvalidSession, "").Code(), resp.Error.Code)
}

func TestCallUnknownChainFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	resp, err = h.call(router.MethodCallRPC, router.CallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:999",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.UnknownChain, "").Code(), resp.Error.Code)
}

func TestWmCallAskApprovedFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{ApprovalTimeout: 5 * time.Second})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	done := make(chan struct{})
	var callResp *rpc.Response
	var callErr error
	go func() {
		callResp, callErr = h.call(router.MethodCallRPC, router.CallParams{
			SessionID: connectResult.SessionID,
			ChainID:   "eip155:1",
			Call:      router.MethodCall{Method: "eth_sign"},
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(h.rt.PendingApprovals()) == 1
	}, time.Second, 10*time.Millisecond)
	pending := h.rt.PendingApprovals()
	require.Len(t, pending, 1)
	assert.Equal(t, "eth_sign", pending[0].Method)
	require.True(t, h.rt.ResolveApproval(pending[0].RequestID, true))

	<-done
	require.NoError(t, callErr)
	require.Nil(t, callResp.Error)
	assert.JSONEq(t, `"0xsig"`, string(callResp.Result))
}

func TestWmCallAskDeniedFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{ApprovalTimeout: 5 * time.Second})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	done := make(chan struct{})
	var callResp *rpc.Response
	go func() {
		callResp, _ = h.call(router.MethodCallRPC, router.CallParams{
			SessionID: connectResult.SessionID,
			ChainID:   "eip155:1",
			Call:      router.MethodCall{Method: "eth_sign"},
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(h.rt.PendingApprovals()) == 1
	}, time.Second, 10*time.Millisecond)
	pending := h.rt.PendingApprovals()
	require.True(t, h.rt.ResolveApproval(pending[0].RequestID, false))

	<-done
	require.NotNil(t, callResp.Error)
	assert.Equal(t, rerr.New(rerr.InsufficientPermissions, "").Code(), callResp.Error.Code)
}

func TestWmCallAskTimesOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{ApprovalTimeout: 30 * time.Millisecond})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	callResp, err := h.call(router.MethodCallRPC, router.CallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_sign"},
	})
	require.NoError(t, err)
	require.NotNil(t, callResp.Error)
	assert.Equal(t, rerr.New(rerr.RequestTimeout, "").Code(), callResp.Error.Code)
}

func TestBulkCallPartialFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts", "eth_chainId"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	resp, err = h.call(router.MethodBulkCall, router.BulkCallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:1",
		Calls: []router.MethodCall{
			{Method: "eth_accounts"},
			{Method: "eth_chainId"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.PartialFailure, "").Code(), resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	results, ok := data["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.JSONEq(t, `["0xabc"]`, mustJSON(t, results[0]))
	failure, ok := results[1].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, failure, "error")
}

func TestSessionIsolationAcrossOrigins(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	respA, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var sessionA router.ConnectResult
	require.NoError(t, json.Unmarshal(respA.Result, &sessionA))

	h.clientTransport.setOrigin(testOriginB, true)

	respB, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var sessionB router.ConnectResult
	require.NoError(t, json.Unmarshal(respB.Result, &sessionB))
	require.NotEqual(t, sessionA.SessionID, sessionB.SessionID)

	// Still declaring origin B: using session A's id must fail InvalidSession.
	resp, err := h.call(router.MethodCallRPC, router.CallParams{
		SessionID: sessionA.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.InvalidSession, "").Code(), resp.Error.Code)

	// Switch back to origin A: session A's own id must still work.
	h.clientTransport.setOrigin(testOriginA, true)
	resp, err = h.call(router.MethodCallRPC, router.CallParams{
		SessionID: sessionA.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.Nil(t, resp.Error)
}

func TestConnectRequiresTrustedOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})
	h.clientTransport.setOrigin(testOriginA, false)

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.InvalidRequest, "").Code(), resp.Error.Code)
}

func TestUpdatePermissionsDeniesViaCallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, denyAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))
	assert.False(t, connectResult.Permissions["eip155:1"][0].Granted)

	resp, err = h.call(router.MethodCallRPC, router.CallParams{
		SessionID: connectResult.SessionID,
		ChainID:   "eip155:1",
		Call:      router.MethodCall{Method: "eth_accounts"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.InsufficientPermissions, "").Code(), resp.Error.Code)
}

func TestEventForwardingRespectsAuthorization(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	received := make(chan rpc.Params, 1)
	h.client.On(router.EventWalletStateChanged, func(p rpc.Params) {
		received <- p
	})

	h.hub.Forward(chain.ID("eip155:1"), router.EventWalletStateChanged, rpc.Params{})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected authorized session to receive forwarded event")
	}
}

func TestEventForwardingSkipsUnauthorizedChain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, allowAll, router.Config{})

	resp, err := h.call(router.MethodConnect, router.ConnectParams{
		Permissions: map[string][]string{"eip155:1": {"eth_accounts"}},
	})
	require.NoError(t, err)
	var connectResult router.ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connectResult))

	received := make(chan rpc.Params, 1)
	h.client.On(router.EventWalletStateChanged, func(p rpc.Params) {
		received <- p
	})

	h.hub.Forward(chain.ID("eip155:2"), router.EventWalletStateChanged, rpc.Params{})

	select {
	case <-received:
		t.Fatal("unauthorized chain event should not have been forwarded")
	case <-time.After(100 * time.Millisecond):
	}
}
