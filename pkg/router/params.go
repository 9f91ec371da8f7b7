package router

import (
	"encoding/json"

	"github.com/walletmesh/router/pkg/permission"
)

// MethodCall is one call within wm_call/wm_bulkCall.
type MethodCall struct {
	Method string          `json:"method" validate:"required"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ConnectParams is wm_connect's input.
type ConnectParams struct {
	Permissions map[string][]string `json:"permissions" validate:"required,min=1"`
}

// ConnectResult is wm_connect's output.
type ConnectResult struct {
	SessionID   string                        `json:"session_id"`
	Permissions map[string][]permission.Grant `json:"permissions"`
}

// ReconnectParams is wm_reconnect's input.
type ReconnectParams struct {
	SessionID string `json:"session_id" validate:"required"`
}

// ReconnectResult is wm_reconnect's output.
type ReconnectResult struct {
	Status      bool                          `json:"status"`
	Permissions map[string][]permission.Grant `json:"permissions"`
}

// DisconnectParams is wm_disconnect's input.
type DisconnectParams struct {
	SessionID string `json:"session_id" validate:"required"`
}

// GetPermissionsParams is wm_getPermissions's input.
type GetPermissionsParams struct {
	SessionID string   `json:"session_id" validate:"required"`
	ChainIDs  []string `json:"chain_ids,omitempty"`
}

// UpdatePermissionsParams is wm_updatePermissions's input.
type UpdatePermissionsParams struct {
	SessionID   string              `json:"session_id" validate:"required"`
	Permissions map[string][]string `json:"permissions" validate:"required"`
}

// CallParams is wm_call's input.
type CallParams struct {
	SessionID string     `json:"session_id" validate:"required"`
	ChainID   string     `json:"chain_id" validate:"required,caip2"`
	Call      MethodCall `json:"call" validate:"required"`
}

// BulkCallParams is wm_bulkCall's input. The implementation cap
// on len(Calls) is enforced by the router using its configured
// BulkCallCap, not by this tag — the tag just rejects the empty case.
type BulkCallParams struct {
	SessionID string       `json:"session_id" validate:"required"`
	ChainID   string       `json:"chain_id" validate:"required,caip2"`
	Calls     []MethodCall `json:"calls" validate:"required,min=1"`
}

// GetSupportedMethodsParams is wm_getSupportedMethods's input.
type GetSupportedMethodsParams struct {
	ChainIDs []string `json:"chain_ids,omitempty"`
}
