package session

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var embedMigrations embed.FS

// migratePostgres applies the router_sessions table migration via goose.
func migratePostgres(dsn string) error {
	db, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations/postgres"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
