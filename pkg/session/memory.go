package session

import (
	"sync"
	"time"

	"github.com/walletmesh/router/pkg/log"
)

// InMemoryStore is the reference in-process Store: a mutex-guarded map
// (map + sync.RWMutex, lazy expiry on read, sweep on CleanExpired).
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record

	slide bool
	ttl   time.Duration

	log log.Logger
}

var _ Store = (*InMemoryStore)(nil)

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithSlidingWindow makes ValidateAndRefresh extend a record's
// last_active_at/expires_at by ttl on every successful validation.
func WithSlidingWindow(ttl time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.slide = true
		s.ttl = ttl
	}
}

// NewInMemoryStore builds an empty InMemoryStore.
func NewInMemoryStore(lg log.Logger, opts ...InMemoryOption) *InMemoryStore {
	if lg == nil {
		lg = log.NewNop()
	}
	s := &InMemoryStore{
		records: make(map[string]Record),
		log:     lg.WithName("session.memory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Set(id string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = record
	return nil
}

func (s *InMemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok || rec.Expired(time.Now()) {
		return Record{}, false
	}
	return rec, true
}

func (s *InMemoryStore) ValidateAndRefresh(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Expired(time.Now()) {
		return Record{}, false
	}
	if s.slide {
		rec.LastActiveAt = time.Now()
		rec.ExpiresAt = rec.LastActiveAt.Add(s.ttl)
		s.records[id] = rec
	}
	return rec, true
}

func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) All() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		if !rec.Expired(now) {
			out[id] = rec
		}
	}
	return out
}

func (s *InMemoryStore) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, id)
			n++
		}
	}
	if n > 0 {
		s.log.Debug("swept expired sessions", "count", n)
	}
	return n
}

func (s *InMemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	return nil
}
