package rpc

import "encoding/json"

// Serializer customizes how one method's params and result cross the JSON
// boundary, for methods whose wire shape isn't a plain JSON value (e.g. a
// hex-encoded big.Int, or a shape the caller wants as a richer Go type).
// Each direction is optional; a nil function passes the raw JSON through
// unchanged.
type Serializer struct {
	// DeserializeParams turns the raw inbound params into the value a
	// handler receives via Context.Typed. Runs after pre-deserialization
	// middleware and before post-deserialization middleware.
	DeserializeParams func(raw json.RawMessage) (any, error)
	// SerializeResult holds an encoder for a method's result value. Node
	// does not apply it: Context.Succeed encodes a handler's result with
	// encoding/json regardless of any registered Serializer.
	SerializeResult func(v any) (json.RawMessage, error)
	// SerializeParams turns a Proxy caller's params value into raw JSON
	// before a Call is sent.
	SerializeParams func(v any) (json.RawMessage, error)
	// DeserializeResult turns a raw result back into a typed value on the
	// Proxy caller's side.
	DeserializeResult func(raw json.RawMessage) (any, error)
}

func defaultSerializeParams(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func defaultDeserializeResult(raw json.RawMessage) (any, error) {
	var v any
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
