// Package migrations embeds the schema of the key-value store for each
// SQL backend.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Supported goose dialects.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Setup points goose at the embedded migrations of dialect and returns the
// directory to pass to goose commands.
func Setup(dialect string) (string, error) {
	var dir string
	switch dialect {
	case DialectSQLite:
		dir = "sqlite"
	case DialectPostgres:
		dir = "postgres"
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("set dialect: %w", err)
	}
	return dir, nil
}

// Run applies all pending migrations of dialect to db.
func Run(db *sql.DB, dialect string) error {
	dir, err := Setup(dialect)
	if err != nil {
		return err
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
