package rpc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/walletmesh/router/pkg/rerr"
)

// Handler processes a Context, either as a terminal method handler or as
// middleware that inspects/mutates state and calls Next to continue the
// chain. Handlers never return a value; they communicate outcome by calling
// Context.Succeed, Context.Fail, or leaving the response unset (treated as
// an internal error) and never Next-ing further.
type Handler func(*Context)

// SendResponseFunc pushes a server-initiated notification to whatever peer
// owns a particular Context/Node, independent of the request/response flow.
type SendResponseFunc func(method string, result any)

// Context carries one request through a Node's middleware and handler
// chain. It is not safe for use after the handler chain finishes running.
type Context struct {
	context.Context

	// SessionID identifies the caller, once a session/auth middleware has
	// resolved one; empty until then.
	SessionID string
	// TransportCtx is the TransportContext the request arrived under.
	TransportCtx TransportContext
	// Request is the inbound request being processed.
	Request Request
	// Typed holds the value produced by a registered Serializer's
	// DeserializeParams, once the post-deserialization stage has run; nil
	// until then, and nil forever if no Serializer is registered for the
	// method.
	Typed any
	// Storage is shared across every request on the same Node/connection,
	// for middleware to stash state (e.g. a resolved session) that later
	// handlers in the same chain, or later requests, can read back.
	Storage *SafeStorage

	handlers []Handler
	index    int
	aborted  bool

	response *Response
	err      *rerr.Error
}

// SafeStorage is a mutex-protected key-value bag attached to a Node (or, in
// the WebSocket server, to a single connection) and shared by every request
// processed on it.
type SafeStorage struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewSafeStorage() *SafeStorage {
	return &SafeStorage{data: make(map[string]any)}
}

func (s *SafeStorage) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *SafeStorage) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// newContext builds the Context for one inbound request.
func newContext(parent context.Context, req Request, tctx TransportContext, handlers []Handler, storage *SafeStorage) *Context {
	return &Context{
		Context:      parent,
		TransportCtx: tctx,
		Request:      req,
		Storage:      storage,
		handlers:     handlers,
		index:        -1,
	}
}

// Next invokes the next handler in the chain. Calling Next from the final
// handler is a no-op. Middleware that wants to short-circuit the chain
// should call Abort instead of simply returning without calling Next.
func (c *Context) Next() {
	c.index++
	for c.index < len(c.handlers) && !c.aborted {
		c.handlers[c.index](c)
		c.index++
	}
}

// Abort stops the remaining chain from running once the current handler
// returns. Any handler that has already decided the response (via Succeed
// or Fail) should call Abort so later middleware does not overwrite it.
func (c *Context) Abort() {
	c.aborted = true
}

// Succeed records a successful response carrying result.
func (c *Context) Succeed(result any) {
	resp := NewResponse(c.Request.ID, result)
	c.response = &resp
}

// Fail records an error response, classifying err through rerr so that
// unexpected internal errors never leak their message to the caller.
func (c *Context) Fail(err error) {
	re := rerr.Classify(err)
	c.err = re
	resp := NewErrorResponse(c.Request.ID, &ErrorObject{
		Code:    re.Code(),
		Message: re.Message,
		Data:    re.Data,
	})
	c.response = &resp
}

// Err returns the classified error recorded by Fail, or nil if the
// Context's handler chain succeeded (or has not finished yet).
func (c *Context) Err() *rerr.Error {
	return c.err
}

// GetRawResponse marshals the recorded response to JSON, failing the
// Context with an internal error first if no handler ever set one.
func (c *Context) GetRawResponse() ([]byte, error) {
	if c.response == nil {
		c.Fail(rerr.New(rerr.UnknownError, "handler chain produced no response"))
	}
	return json.Marshal(c.response)
}

// BindParams decodes the request's raw params into out, for handlers on
// methods with no registered Serializer.
func (c *Context) BindParams(out any) error {
	if len(c.Request.Params) == 0 {
		return nil
	}
	return json.Unmarshal(c.Request.Params, out)
}
