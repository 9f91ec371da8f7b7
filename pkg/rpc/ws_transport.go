package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletmesh/router/pkg/log"
)

// WebsocketTransportConfig tunes the websocket plumbing shared by both the
// server-accept and client-dial constructors.
type WebsocketTransportConfig struct {
	// HandshakeTimeout bounds DialWebsocket's handshake (client side only).
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each Send call.
	WriteTimeout time.Duration
	// ReadBufferSize and WriteBufferSize size the gorilla/websocket buffers.
	ReadBufferSize, WriteBufferSize int
	// CheckOrigin validates the origin of inbound upgrade requests
	// (server side only). Defaults to allowing all origins.
	CheckOrigin func(r *http.Request) bool
}

// DefaultWebsocketTransportConfig holds conservative defaults for both the
// accept and dial sides.
var DefaultWebsocketTransportConfig = WebsocketTransportConfig{
	HandshakeTimeout: 5 * time.Second,
	WriteTimeout:     5 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// WebsocketTransport implements Transport over a gorilla/websocket
// connection. The same type serves both roles: AcceptWebsocket wraps a
// connection obtained from an http.Handler upgrade, DialWebsocket opens an
// outbound connection to a peer's URL.
type WebsocketTransport struct {
	cfg  WebsocketTransportConfig
	conn *websocket.Conn
	lg   log.Logger

	origin string

	writeMu sync.Mutex
	mu      sync.RWMutex
	onMsg   func([]byte, TransportContext)
	lastCtx TransportContext
}

var _ Transport = (*WebsocketTransport)(nil)

// AcceptWebsocket upgrades r to a WebSocket connection and wraps it as a
// Transport. The origin string is used for logging and TransportContext.
func AcceptWebsocket(w http.ResponseWriter, r *http.Request, origin string, cfg WebsocketTransportConfig, lg log.Logger) (*WebsocketTransport, error) {
	cfg = withDefaults(cfg)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     cfg.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}
	t := newWebsocketTransport(conn, origin, cfg, lg)
	go t.readLoop()
	return t, nil
}

// DialWebsocket opens an outbound connection to url and wraps it as a
// Transport, trusted by construction since the router itself initiated it.
func DialWebsocket(ctx context.Context, url string, cfg WebsocketTransportConfig, lg log.Logger) (*WebsocketTransport, error) {
	cfg = withDefaults(cfg)
	dialer := websocket.Dialer{
		HandshakeTimeout:  cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialingWebsocket, err)
	}
	t := newWebsocketTransport(conn, url, cfg, lg)
	go t.readLoop()
	return t, nil
}

func withDefaults(cfg WebsocketTransportConfig) WebsocketTransportConfig {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultWebsocketTransportConfig.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebsocketTransportConfig.WriteTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultWebsocketTransportConfig.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = DefaultWebsocketTransportConfig.WriteBufferSize
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return cfg
}

func newWebsocketTransport(conn *websocket.Conn, origin string, cfg WebsocketTransportConfig, lg log.Logger) *WebsocketTransport {
	if lg == nil {
		lg = log.NewNop()
	}
	return &WebsocketTransport{
		cfg:    cfg,
		conn:   conn,
		lg:     lg.WithName("ws-transport"),
		origin: origin,
	}
}

func (t *WebsocketTransport) Send(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrSendingRequest, err)
	}
	return nil
}

func (t *WebsocketTransport) OnMessage(fn func([]byte, TransportContext)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMsg = fn
}

func (t *WebsocketTransport) LastMessageContext() TransportContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastCtx
}

func (t *WebsocketTransport) Close() error {
	return t.conn.Close()
}

func (t *WebsocketTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if _, ok := err.(net.Error); ok {
				t.lg.Error("websocket read timeout", "error", err)
			} else {
				t.lg.Debug("websocket read loop exiting", "error", err)
			}
			return
		}

		tctx := TransportContext{Origin: t.origin, Trusted: true}
		t.mu.Lock()
		t.lastCtx = tctx
		cb := t.onMsg
		t.mu.Unlock()

		if cb != nil {
			cb(data, tctx)
		}
	}
}
