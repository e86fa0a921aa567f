// Package database opens the SQL database named by DB_URL.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// ErrUnsupportedURL indicates a DB_URL whose dialect has no registered driver.
var ErrUnsupportedURL = errors.New("unsupported database URL")

// ParseURL translates an SQLAlchemy-style URL into a database/sql driver name
// and DSN. An optional "+driver" suffix on the dialect is ignored.
//
//	sqlite:////var/tmp/anitya.sqlite   -> sqlite3, /var/tmp/anitya.sqlite
//	sqlite:///anitya.sqlite            -> sqlite3, anitya.sqlite
//	postgresql+psycopg2://u@h/anitya   -> pgx, postgresql://u@h/anitya
func ParseURL(raw string) (driver, dsn string, err error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	dialect, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch dialect {
	case "sqlite":
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			return DriverSQLite, ":memory:", nil
		}
		return DriverSQLite, path, nil
	case "postgresql", "postgres":
		if rest == "" {
			return "", "", fmt.Errorf("%w: %q has no host", ErrUnsupportedURL, raw)
		}
		return DriverPostgres, dialect + "://" + rest, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
}

// Open prepares a connection pool for rawURL. No connection is made until the
// pool is first used.
func Open(rawURL string) (*sql.DB, error) {
	driver, dsn, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite3 allows a single writer at a time.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
