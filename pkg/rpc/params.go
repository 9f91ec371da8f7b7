package rpc

import (
	"encoding/json"
	"fmt"
)

// Params is a convenience view over an object-shaped JSON-RPC params value.
// Most wm_* methods exchange named parameters, so handlers decode into a
// typed struct via Translate rather than walking raw JSON.
type Params map[string]json.RawMessage

// NewParams marshals v (typically a struct or map) into a Params value.
func NewParams(v any) (Params, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling params: %w", err)
	}

	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("error unmarshalling params: %w", err)
	}
	return p, nil
}

// Translate decodes the params into out, which must be a pointer.
func (p Params) Translate(out any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error marshalling params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("error unmarshalling params: %w", err)
	}
	return nil
}

// RawParams marshals v into a generic JSON-RPC params value (object, array,
// or scalar), for forwarding to downstream methods whose shape the router
// does not know in advance.
func RawParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("error marshalling params: %w", err)
	}
	return data, nil
}
