// Package approval implements the router's approval queue: a
// rendezvous structure that blocks a wm_call pending a user decision, a
// timeout, or shutdown.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
)

// State is the lifecycle stage of a pending approval.
type State string

const (
	Pending  State = "pending"
	Approved State = "approved"
	Denied   State = "denied"
	TimedOut State = "timed_out"
)

// Context is the transient record tracked for one in-flight approval.
type Context struct {
	RequestID uint64
	ChainID   chain.ID
	Method    string
	Params    json.RawMessage
	Origin    string
	State     State
	QueuedAt  time.Time
}

var (
	// ErrConflict is returned by Queue when a pending entry already exists
	// for the given request id.
	ErrConflict = errors.New("approval: a pending approval already exists for this request id")
	// ErrTimeout is returned by Queue when the configured timeout elapses
	// before a decision arrives.
	ErrTimeout = errors.New("approval: timed out waiting for a decision")
	// ErrCancelled is returned by outstanding Queue calls when CleanupAll
	// runs.
	ErrCancelled = errors.New("approval: cancelled by shutdown")
)

type entry struct {
	ctx    Context
	result chan result
}

type result struct {
	approved bool
	err      error
}

// Queue is the reference Approval Queue. It is safe for concurrent use.
type Queue struct {
	mu             sync.Mutex
	pending        map[uint64]*entry
	defaultTimeout time.Duration
	onTimeout      func(Context)
	log            log.Logger
}

// New builds a Queue. defaultTimeout is used by Queue when the caller
// passes 0; it defaults to 60s.
func New(defaultTimeout time.Duration, lg log.Logger) *Queue {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	if lg == nil {
		lg = log.NewNop()
	}
	return &Queue{
		pending:        make(map[uint64]*entry),
		defaultTimeout: defaultTimeout,
		log:            lg.WithName("approval"),
	}
}

// OnTimeout registers a hook invoked just before a timed-out entry's
// future errors.
func (q *Queue) OnTimeout(fn func(Context)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTimeout = fn
}

// Queue registers a pending approval and blocks until it is resolved,
// times out, or ctx is cancelled.
func (q *Queue) Queue(ctx context.Context, actx Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = q.defaultTimeout
	}
	actx.State = Pending
	actx.QueuedAt = time.Now()

	q.mu.Lock()
	if _, exists := q.pending[actx.RequestID]; exists {
		q.mu.Unlock()
		return false, ErrConflict
	}
	e := &entry{ctx: actx, result: make(chan result, 1)}
	q.pending[actx.RequestID] = e
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-e.result:
		return r.approved, r.err
	case <-timer.C:
		q.expire(actx.RequestID)
		return false, ErrTimeout
	case <-ctx.Done():
		q.expire(actx.RequestID)
		return false, ctx.Err()
	}
}

// expire removes a pending entry if it is still present, firing onTimeout
// first. It is a no-op if Resolve already claimed the entry — this is the
// atomicity guarantee between Queue and Resolve.
func (q *Queue) expire(requestID uint64) {
	q.mu.Lock()
	e, ok := q.pending[requestID]
	if ok {
		delete(q.pending, requestID)
	}
	hook := q.onTimeout
	q.mu.Unlock()
	if !ok {
		return
	}
	if hook != nil {
		e.ctx.State = TimedOut
		hook(e.ctx)
	}
	q.log.Debug("approval timed out", "request_id", requestID)
}

// Resolve transitions a pending entry to Approved/Denied and wakes its
// future. It returns false if no matching entry exists (already resolved,
// timed out, or never queued) — a late Resolve racing a timeout is a
// documented no-op.
func (q *Queue) Resolve(requestID uint64, approved bool) bool {
	q.mu.Lock()
	e, ok := q.pending[requestID]
	if ok {
		delete(q.pending, requestID)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	e.result <- result{approved: approved}
	return true
}

// Pending returns a snapshot of every currently pending approval context.
func (q *Queue) Pending() []Context {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Context, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.ctx)
	}
	return out
}

// PendingCount returns the number of currently pending approvals.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// HasPending reports whether requestID currently has a pending approval.
func (q *Queue) HasPending(requestID uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[requestID]
	return ok
}

// Cleanup removes a single pending entry without resolving its future's
// caller with a value — used when the caller itself gave up.
func (q *Queue) Cleanup(requestID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, requestID)
}

// CleanupAll rejects every outstanding approval with ErrCancelled and
// empties the queue — used by router shutdown.
func (q *Queue) CleanupAll() {
	q.mu.Lock()
	entries := q.pending
	q.pending = make(map[uint64]*entry)
	q.mu.Unlock()

	for _, e := range entries {
		e.result <- result{approved: false, err: ErrCancelled}
	}
	q.log.Debug("approval queue cleaned up", "cancelled", len(entries))
}
