package rpc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/rerr"
	"github.com/walletmesh/router/pkg/rpc"
)

func newPair(t *testing.T) (*rpc.Node, *rpc.Node) {
	t.Helper()
	ta, tb := rpc.NewLocalTransportPair("client", "server")
	a := rpc.NewNode(ta, log.NewNop())
	b := rpc.NewNode(tb, log.NewNop())
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestNodePing(t *testing.T) {
	t.Parallel()
	client, _ := newPair(t)

	resp, err := client.Call(context.Background(), rpc.PingMethod.String(), nil, time.Second)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Equal(t, `"pong"`, string(resp.Result))
}

func TestNodeCallRoundTrip(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	server.Handle("echo", func(c *rpc.Context) {
		var in map[string]string
		require.NoError(t, c.BindParams(&in))
		c.Succeed(in["msg"])
	})

	resp, err := client.Call(context.Background(), "echo", map[string]string{"msg": "hi"}, time.Second)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `"hi"`, string(resp.Result))
}

func TestNodeUnknownMethod(t *testing.T) {
	t.Parallel()
	client, _ := newPair(t)

	resp, err := client.Call(context.Background(), "nope", nil, time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rerr.New(rerr.MethodNotSupported, "").Code(), resp.Error.Code)
}

func TestNodeFallbackHandler(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	server.SetFallbackHandler(func(c *rpc.Context) {
		c.Succeed(map[string]string{"fellBackFor": c.Request.Method})
	})

	resp, err := client.Call(context.Background(), "whatever_method", nil, time.Second)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Result), "whatever_method")
}

func TestNodeMiddlewareOrdering(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	var order []string
	server.Use(func(c *rpc.Context) {
		order = append(order, "global")
		c.Next()
	})
	group := server.NewGroup("g")
	group.Use(func(c *rpc.Context) {
		order = append(order, "group")
		c.Next()
	})
	group.Handle("ordered", func(c *rpc.Context) {
		order = append(order, "handler")
		c.Succeed(nil)
	})

	_, err := client.Call(context.Background(), "ordered", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"global", "group", "handler"}, order)
}

func TestNodeMiddlewareShortCircuit(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	server.Use(func(c *rpc.Context) {
		c.Fail(rerr.New(rerr.InsufficientPermissions, "blocked"))
		c.Abort()
	})
	var handlerRan bool
	server.Handle("blocked_method", func(c *rpc.Context) {
		handlerRan = true
		c.Succeed(nil)
	})

	resp, err := client.Call(context.Background(), "blocked_method", nil, time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.False(t, handlerRan)
	assert.Equal(t, rerr.New(rerr.InsufficientPermissions, "").Code(), resp.Error.Code)
}

func TestNodeSerializerAndPostDeserializationMiddleware(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	type typed struct{ N int }
	server.RegisterSerializer("double", rpc.Serializer{
		DeserializeParams: func(raw json.RawMessage) (any, error) {
			var in struct{ N int }
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, err
			}
			return typed{N: in.N}, nil
		},
	})
	var sawTyped bool
	server.AddPostDeserializationMiddleware(func(c *rpc.Context) {
		if _, ok := c.Typed.(typed); ok {
			sawTyped = true
		}
		c.Next()
	})
	server.Handle("double", func(c *rpc.Context) {
		v := c.Typed.(typed)
		c.Succeed(v.N * 2)
	})

	resp, err := client.Call(context.Background(), "double", map[string]int{"N": 21}, time.Second)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.True(t, sawTyped)
	assert.JSONEq(t, "42", string(resp.Result))
}

func TestNodeNotifications(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	received := make(chan rpc.Params, 1)
	client.On("wm_sessionTerminated", func(p rpc.Params) {
		received <- p
	})

	require.NoError(t, server.Emit("wm_sessionTerminated", map[string]string{"session_id": "abc"}))

	select {
	case p := <-received:
		var body struct{ SessionID string `json:"session_id"` }
		require.NoError(t, p.Translate(&body))
		assert.Equal(t, "abc", body.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestNodeCallTimeout(t *testing.T) {
	t.Parallel()
	client, server := newPair(t)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	server.Handle("slow", func(c *rpc.Context) {
		<-block
		c.Succeed(nil)
	})

	_, err := client.Call(context.Background(), "slow", nil, 20*time.Millisecond)
	require.Error(t, err)
}
