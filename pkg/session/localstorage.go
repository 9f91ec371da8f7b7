package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/walletmesh/router/pkg/log"
)

// defaultPrefix is the storage key prefix used when none is configured
//.
const defaultPrefix = "walletmesh:session:"

// KVBackend is the minimal key/value contract LocalStorageStore needs from
// its backing storage. The browser's localStorage satisfies exactly this
// shape; MapKVBackend simulates it for a Go process.
type KVBackend interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// MapKVBackend is an in-process stand-in for browser localStorage.
type MapKVBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMapKVBackend builds an empty MapKVBackend.
func NewMapKVBackend() *MapKVBackend {
	return &MapKVBackend{data: make(map[string][]byte)}
}

func (b *MapKVBackend) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

func (b *MapKVBackend) Set(key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
}

func (b *MapKVBackend) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// sessionClaims wraps a Record in a signed JWT so storage tampering is
// detectable, grounded in the
// teacher's auth.go JWTClaims/GenerateJWT pattern — HS256 here since the
// signing key is process-local rather than a wallet-held ECDSA key.
type sessionClaims struct {
	Record Record `json:"record"`
	jwt.RegisteredClaims
}

// LocalStorageStore is the browser-localStorage-backed Store,
// simulated here via KVBackend. Each session is one signed-JWT value
// under prefix+id; a small index key under prefix+"__index__" lists live
// ids so All/CleanExpired don't need to scan the whole backend.
type LocalStorageStore struct {
	backend    KVBackend
	prefix     string
	signingKey []byte

	mu sync.Mutex // guards index read-modify-write

	slide bool
	ttl   time.Duration

	log log.Logger
}

var _ Store = (*LocalStorageStore)(nil)

// LocalStorageOption configures a LocalStorageStore.
type LocalStorageOption func(*LocalStorageStore)

// WithLocalStorageSlidingWindow enables sliding-window refresh, mirroring
// InMemoryStore's WithSlidingWindow.
func WithLocalStorageSlidingWindow(ttl time.Duration) LocalStorageOption {
	return func(s *LocalStorageStore) {
		s.slide = true
		s.ttl = ttl
	}
}

// WithPrefix overrides the default "walletmesh:session:" key prefix.
func WithPrefix(prefix string) LocalStorageOption {
	return func(s *LocalStorageStore) { s.prefix = prefix }
}

// NewLocalStorageStore builds a LocalStorageStore over backend, signing
// every record with signingKey.
func NewLocalStorageStore(backend KVBackend, signingKey []byte, lg log.Logger, opts ...LocalStorageOption) *LocalStorageStore {
	if lg == nil {
		lg = log.NewNop()
	}
	s := &LocalStorageStore{
		backend:    backend,
		prefix:     defaultPrefix,
		signingKey: signingKey,
		log:        lg.WithName("session.localstorage"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalStorageStore) key(id string) string { return s.prefix + id }
func (s *LocalStorageStore) indexKey() string      { return s.prefix + "__index__" }

func (s *LocalStorageStore) Set(id string, record Record) error {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Record: record,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
			Issuer:    "walletmesh-router",
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return err
	}
	s.backend.Set(s.key(id), []byte(signed))
	s.addToIndex(id)
	return nil
}

// decode parses and verifies the stored token for id. A non-nil error
// means the entry is missing or tampered/malformed, which callers treat
// as absent without deleting it — it is recoverable by simply overwriting
// it on the next Set.
func (s *LocalStorageStore) decode(id string) (Record, error) {
	raw, ok := s.backend.Get(s.key(id))
	if !ok {
		return Record{}, errNotFound
	}
	token, err := jwt.ParseWithClaims(string(raw), &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return Record{}, err
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return Record{}, errMalformed
	}
	return claims.Record, nil
}

func (s *LocalStorageStore) Get(id string) (Record, bool) {
	rec, err := s.decode(id)
	if err != nil || rec.Expired(time.Now()) {
		return Record{}, false
	}
	return rec, true
}

func (s *LocalStorageStore) ValidateAndRefresh(id string) (Record, bool) {
	rec, err := s.decode(id)
	if err != nil || rec.Expired(time.Now()) {
		return Record{}, false
	}
	if s.slide {
		rec.LastActiveAt = time.Now()
		rec.ExpiresAt = rec.LastActiveAt.Add(s.ttl)
		if err := s.Set(id, rec); err != nil {
			s.log.Warn("failed to persist refreshed session", "id", id, "err", err.Error())
		}
	}
	return rec, true
}

func (s *LocalStorageStore) Delete(id string) error {
	s.backend.Delete(s.key(id))
	s.removeFromIndex(id)
	return nil
}

func (s *LocalStorageStore) All() map[string]Record {
	out := make(map[string]Record)
	for _, id := range s.readIndex() {
		if rec, ok := s.Get(id); ok {
			out[id] = rec
		}
	}
	return out
}

func (s *LocalStorageStore) CleanExpired() int {
	n := 0
	now := time.Now()
	for _, id := range s.readIndex() {
		rec, err := s.decode(id)
		if err != nil {
			// Malformed entries are left in place to be overwritten on
			// next Set, not actively cleaned.
			continue
		}
		if rec.Expired(now) {
			s.backend.Delete(s.key(id))
			s.removeFromIndex(id)
			n++
		}
	}
	if n > 0 {
		s.log.Debug("swept expired sessions", "count", n)
	}
	return n
}

func (s *LocalStorageStore) Clear() error {
	for _, id := range s.readIndex() {
		s.backend.Delete(s.key(id))
	}
	s.backend.Set(s.indexKey(), []byte("[]"))
	return nil
}

func (s *LocalStorageStore) readIndex() []string {
	raw, ok := s.backend.Get(s.indexKey())
	if !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		// A corrupted index degrades to "no known ids" rather than an
		// error; individual Get(id) calls still work if the caller knows
		// the id out of band.
		return nil
	}
	return ids
}

func (s *LocalStorageStore) writeIndex(ids []string) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	s.backend.Set(s.indexKey(), raw)
}

func (s *LocalStorageStore) addToIndex(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.readIndex()
	for _, existing := range ids {
		if existing == id {
			return
		}
	}
	s.writeIndex(append(ids, id))
}

func (s *LocalStorageStore) removeFromIndex(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.readIndex()
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	s.writeIndex(out)
}
