package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// OpenDatabase opens the raw connection for the configured driver and picks
// the matching bun dialect. The postgres driver is linked here; sqlite
// callers must link github.com/mattn/go-sqlite3 themselves so production
// postgres builds stay cgo-free.
func OpenDatabase(driver string, dsn string) (*sql.DB, schema.Dialect, error) {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch normalized {
	case DriverPostgres, "postgresql", "pg":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlstore: open postgres: %w", err)
		}
		return db, pgdialect.New(), nil
	case DriverSQLite, "sqlite":
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
		}
		return db, sqlitedialect.New(), nil
	default:
		return nil, nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
