package rpc

import (
	"encoding/json"
	"fmt"
)

const jsonrpcVersion = "2.0"

// Method is a well-known RPC method name reserved by the transport itself,
// as opposed to the domain methods a Node's handlers register.
type Method string

const (
	// PingMethod is the built-in keepalive request every Node answers.
	PingMethod Method = "ping"
	// PongMethod is the built-in reply to PingMethod.
	PongMethod Method = "pong"
)

func (m Method) String() string { return string(m) }

// ErrorObject is the standard JSON-RPC 2.0 error shape carried in a failed
// Response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Request is a strict JSON-RPC 2.0 request object. ID is omitted on
// notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a Request carrying the given id, method, and
// already-encoded params.
func NewRequest(id uint64, method string, params Params) Request {
	raw, _ := json.Marshal(params)
	return Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: raw}
}

// IsNotification reports whether this Request has no id, i.e. no response
// is expected.
func (r Request) IsNotification() bool { return r.ID == 0 }

// Response is a strict JSON-RPC 2.0 response object: exactly one of Result
// or Error is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewResponse builds a successful Response wrapping result.
func NewResponse(id uint64, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, &ErrorObject{Code: -32603, Message: "failed to encode result"})
	}
	return Response{JSONRPC: jsonrpcVersion, ID: id, Result: raw}
}

// NewErrorResponse builds a failed Response carrying errObj.
func NewErrorResponse(id uint64, errObj *ErrorObject) Response {
	return Response{JSONRPC: jsonrpcVersion, ID: id, Error: errObj}
}

// Notification is a JSON-RPC 2.0 request object with no id, used for
// server-emitted events and the fire-and-forget Node.Notify path.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func NewNotification(method string, params Params) Notification {
	raw, _ := json.Marshal(params)
	return Notification{JSONRPC: jsonrpcVersion, Method: method, Params: raw}
}

// envelope is used to sniff an inbound message's shape before committing to
// unmarshaling it as a Request, Response, or Notification.
type envelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *ErrorObject    `json:"error"`
}

func sniff(data []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return envelope{}, fmt.Errorf("rpc: malformed message: %w", err)
	}
	return e, nil
}
