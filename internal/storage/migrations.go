package storage

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending goose migration. The teacher embeds one
// fixed schema per store at construction time; Cortex's storage layer is
// shared by every higher-level store and is expected to gain tables across
// releases without losing data, so schema changes travel as versioned,
// re-runnable goose migrations instead.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}
