// Package session implements the router's session store: the
// record type authorizing a particular origin to invoke methods on a set
// of chains, and the store operations that create, look up, refresh, and
// expire it.
package session

import (
	"time"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/permission"
)

// Record is the session record owned by the store.
type Record struct {
	SessionID    string                                   `json:"session_id"`
	Origin       string                                   `json:"origin"`
	CreatedAt    time.Time                                `json:"created_at"`
	LastActiveAt time.Time                                `json:"last_active_at"`
	ExpiresAt    time.Time                                `json:"expires_at"`
	Permissions  map[chain.ID]map[string]permission.State `json:"permissions"`
	Metadata     map[string]any                           `json:"metadata,omitempty"`
}

// Expired reports whether the record should be treated as absent.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Clone returns a deep-enough copy of r so that callers mutating the
// returned record (e.g. to merge in new permissions before Set) never
// mutate a store's internal state out from under it.
func (r Record) Clone() Record {
	out := r
	out.Permissions = make(map[chain.ID]map[string]permission.State, len(r.Permissions))
	for chainID, methods := range r.Permissions {
		m := make(map[string]permission.State, len(methods))
		for method, state := range methods {
			m[method] = state
		}
		out.Permissions[chainID] = m
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Store is the contract every session-store backend satisfies.
// Implementations never surface storage failure as a protocol error:
// storage errors degrade to "not found" except where Set itself fails,
// which the router maps to UnknownError.
type Store interface {
	Set(id string, record Record) error
	// Get returns the record and true, or a zero Record and false if
	// absent or expired.
	Get(id string) (Record, bool)
	// ValidateAndRefresh is Get, and for stores configured to slide the
	// expiry window, also extends it.
	ValidateAndRefresh(id string) (Record, bool)
	Delete(id string) error
	// All returns every non-expired record, keyed by id.
	All() map[string]Record
	// CleanExpired sweeps expired records and returns how many were
	// removed.
	CleanExpired() int
	Clear() error
}
