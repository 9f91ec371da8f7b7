package session

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/walletmesh/router/pkg/chain"
	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/permission"
)

// DBConfig configures the database SQLSessionStore connects to.
type DBConfig struct {
	Driver string `env:"WALLETMESH_SESSION_DB_DRIVER" env-default:"sqlite"`
	DSN    string `env:"WALLETMESH_SESSION_DB_DSN" env-default:"file::memory:?cache=shared"`
}

// Connect opens a *gorm.DB for cfg and runs the session table migration,
// dispatching on the configured driver.
func Connect(cfg DBConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return connectPostgres(cfg)
	case "sqlite", "":
		return connectSqlite(cfg)
	default:
		return nil, fmt.Errorf("session: unsupported driver %q", cfg.Driver)
	}
}

func connectPostgres(cfg DBConfig) (*gorm.DB, error) {
	if err := migratePostgres(cfg.DSN); err != nil {
		return nil, fmt.Errorf("session: applying postgres migrations: %w", err)
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func connectSqlite(cfg DBConfig) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sqlRecord{}); err != nil {
		return nil, fmt.Errorf("session: auto-migrating sqlite: %w", err)
	}
	return db, nil
}

// sqlRecord is the row shape persisted by SQLSessionStore. Permissions and
// Metadata are stored as JSON text columns rather than normalized tables:
// the permission table is small and is read/written as a unit.
type sqlRecord struct {
	SessionID    string `gorm:"primaryKey;column:session_id"`
	Origin       string `gorm:"column:origin;index"`
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time `gorm:"index"`
	Permissions  string    `gorm:"type:text"`
	Metadata     string    `gorm:"type:text"`
}

func (sqlRecord) TableName() string { return "router_sessions" }

func toSQLRecord(id string, r Record) (sqlRecord, error) {
	permJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return sqlRecord{}, err
	}
	metaJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return sqlRecord{}, err
	}
	return sqlRecord{
		SessionID:    id,
		Origin:       r.Origin,
		CreatedAt:    r.CreatedAt,
		LastActiveAt: r.LastActiveAt,
		ExpiresAt:    r.ExpiresAt,
		Permissions:  string(permJSON),
		Metadata:     string(metaJSON),
	}, nil
}

func fromSQLRecord(row sqlRecord) (Record, error) {
	perms := make(map[chain.ID]map[string]permission.State)
	if row.Permissions != "" {
		if err := json.Unmarshal([]byte(row.Permissions), &perms); err != nil {
			return Record{}, err
		}
	}
	var meta map[string]any
	if row.Metadata != "" && row.Metadata != "null" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return Record{}, err
		}
	}
	return Record{
		SessionID:    row.SessionID,
		Origin:       row.Origin,
		CreatedAt:    row.CreatedAt,
		LastActiveAt: row.LastActiveAt,
		ExpiresAt:    row.ExpiresAt,
		Permissions:  perms,
		Metadata:     meta,
	}, nil
}

// SQLSessionStore is the gorm-backed enrichment Store variant, built on
// gorm with goose-managed migrations and sqlite/postgres drivers.
type SQLSessionStore struct {
	db *gorm.DB

	slide bool
	ttl   time.Duration

	log log.Logger
}

var _ Store = (*SQLSessionStore)(nil)

// SQLOption configures a SQLSessionStore.
type SQLOption func(*SQLSessionStore)

// WithSQLSlidingWindow enables sliding-window refresh, mirroring the other
// two Store backends.
func WithSQLSlidingWindow(ttl time.Duration) SQLOption {
	return func(s *SQLSessionStore) {
		s.slide = true
		s.ttl = ttl
	}
}

// NewSQLSessionStore wraps an already-migrated *gorm.DB.
func NewSQLSessionStore(db *gorm.DB, lg log.Logger, opts ...SQLOption) *SQLSessionStore {
	if lg == nil {
		lg = log.NewNop()
	}
	s := &SQLSessionStore{db: db, log: lg.WithName("session.sql")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLSessionStore) Set(id string, record Record) error {
	row, err := toSQLRecord(id, record)
	if err != nil {
		return err
	}
	return s.db.Save(&row).Error
}

func (s *SQLSessionStore) Get(id string) (Record, bool) {
	var row sqlRecord
	if err := s.db.First(&row, "session_id = ?", id).Error; err != nil {
		return Record{}, false
	}
	rec, err := fromSQLRecord(row)
	if err != nil || rec.Expired(time.Now()) {
		return Record{}, false
	}
	return rec, true
}

func (s *SQLSessionStore) ValidateAndRefresh(id string) (Record, bool) {
	rec, ok := s.Get(id)
	if !ok {
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

func (s *SQLSessionStore) Delete(id string) error {
	return s.db.Delete(&sqlRecord{}, "session_id = ?", id).Error
}

func (s *SQLSessionStore) All() map[string]Record {
	var rows []sqlRecord
	out := make(map[string]Record)
	if err := s.db.Where("expires_at > ?", time.Now()).Find(&rows).Error; err != nil {
		return out
	}
	for _, row := range rows {
		if rec, err := fromSQLRecord(row); err == nil {
			out[row.SessionID] = rec
		}
	}
	return out
}

func (s *SQLSessionStore) CleanExpired() int {
	res := s.db.Where("expires_at <= ?", time.Now()).Delete(&sqlRecord{})
	if res.Error != nil {
		return 0
	}
	return int(res.RowsAffected)
}

func (s *SQLSessionStore) Clear() error {
	return s.db.Where("1 = 1").Delete(&sqlRecord{}).Error
}
