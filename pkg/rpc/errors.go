package rpc

import "errors"

var (
	// ErrNotConnected is returned when Call is attempted on a Node whose
	// transport has not been started or has already closed.
	ErrNotConnected = errors.New("rpc: not connected")
	// ErrAlreadyConnected names a transport that is already live; no function
	// in this package returns it.
	ErrAlreadyConnected = errors.New("rpc: already connected")
	// ErrDialingWebsocket wraps failures establishing the websocket connection.
	ErrDialingWebsocket = errors.New("rpc: error dialing websocket")
	// ErrConnectionTimeout names a read that timed out. WebsocketTransport's
	// read loop logs read failures and does not return this value.
	ErrConnectionTimeout = errors.New("rpc: connection timeout")
	// ErrReadingMessage names a non-timeout read failure. WebsocketTransport's
	// read loop logs read failures and does not return this value.
	ErrReadingMessage = errors.New("rpc: error reading message")
	// ErrMarshalingRequest wraps a JSON marshal failure on an outgoing request.
	ErrMarshalingRequest = errors.New("rpc: error marshaling request")
	// ErrSendingRequest wraps a transport send failure.
	ErrSendingRequest = errors.New("rpc: error sending request")
	// ErrNoResponse is returned when Call's context is done (including its
	// timeout) before a matching response arrives; a Node that closes while
	// Call waits yields ErrNotConnected instead.
	ErrNoResponse = errors.New("rpc: no response received")
	// ErrNilRequest names a nil request. Call takes a method and params
	// rather than a request value and does not return it.
	ErrNilRequest = errors.New("rpc: request cannot be nil")
	// ErrHandlerNotFound names a request for a method with no registered
	// handler chain. Node answers such a request with a MethodNotSupported
	// error response rather than returning this value.
	ErrHandlerNotFound = errors.New("rpc: no handler for method")
)
