package store

import (
	"context"
	"database/sql"
	"fmt"
)

// dialect captures everything that differs between the two supported SQL
// backends: parameter placeholder style and column type names.
type dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnType(tag string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string             { return "sqlite" }
func (sqliteDialect) Placeholder(_ int) string { return "?" }
func (sqliteDialect) ColumnType(tag string) string {
	switch tag {
	case "numeric":
		return "REAL"
	case "integer":
		return "INTEGER"
	default:
		return "TEXT"
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) ColumnType(tag string) string {
	switch tag {
	case "numeric":
		return "DOUBLE PRECISION"
	case "integer":
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// detectDialect probes the connection once. sqlite_version() only exists
// on SQLite; anything else is treated as Postgres. The result is cached on
// the Store so steady-state writes never re-probe.
func detectDialect(ctx context.Context, db *sql.DB) dialect {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		return sqliteDialect{}
	}
	return postgresDialect{}
}
