// Package rerr defines the router's stable client-facing error taxonomy.
//
// Handlers and middleware signal client-facing failures by returning or
// wrapping an *Error built with one of the constructors below. Any other
// error reaching the RPC boundary is collapsed to Kind UnknownError with a
// generic message: only errors explicitly marked client-safe are ever
// echoed verbatim.
package rerr

import (
	"errors"
	"fmt"
)

// Kind is one entry from the router-specific error taxonomy.
// The string value is stable across a release line.
type Kind string

const (
	InvalidRequest          Kind = "InvalidRequest"
	UnknownChain            Kind = "UnknownChain"
	InvalidSession          Kind = "InvalidSession"
	InsufficientPermissions Kind = "InsufficientPermissions"
	MethodNotSupported      Kind = "MethodNotSupported"
	WalletNotAvailable      Kind = "WalletNotAvailable"
	PartialFailure          Kind = "PartialFailure"
	RequestTimeout          Kind = "RequestTimeout"
	UnknownError            Kind = "UnknownError"
)

// codes assigns each Kind a stable JSON-RPC error code: InvalidRequest
// reuses JSON-RPC's standard -32600, and the router's own kinds take
// -32000 through -32007 from the implementation-defined server-error range.
var codes = map[Kind]int{
	InvalidRequest:          -32600,
	UnknownChain:            -32001,
	InvalidSession:          -32002,
	InsufficientPermissions: -32003,
	MethodNotSupported:      -32004,
	WalletNotAvailable:      -32005,
	PartialFailure:          -32006,
	RequestTimeout:          -32007,
	UnknownError:            -32000,
}

// Error is the only error type the router ever serializes to a client.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	Cause   error
}

// New creates a client-facing error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a client-facing error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap rewraps a downstream error under the nearest router kind, preserving
// the cause's error string under Data["cause"].
func Wrap(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, Cause: cause}
	if cause != nil {
		e.Data = map[string]any{"cause": cause.Error()}
	}
	return e
}

// WithData attaches structured data to the error (e.g. bulk-call partial results).
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns the stable numeric code for this error's Kind.
func (e *Error) Code() int {
	if c, ok := codes[e.Kind]; ok {
		return c
	}
	return codes[UnknownError]
}

// As extracts a *Error from err, following the error chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Classify converts any error into a client-safe *Error. Errors that are
// already *Error pass through unchanged; everything else collapses to
// UnknownError so internal details never leak to a peer.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(UnknownError, "an error occurred while processing the request")
}
