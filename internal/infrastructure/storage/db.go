package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	idColumn    string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return dialect{
			driver:      DriverSQLite,
			placeholder: sq.Question,
			idColumn:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		}, nil
	case DriverPostgres:
		return dialect{
			driver:      DriverPostgres,
			placeholder: sq.Dollar,
			idColumn:    "BIGSERIAL PRIMARY KEY",
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d dialect) statements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id ` + d.idColumn + `,
			name TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			access_key TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id ` + d.idColumn + `,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id ` + d.idColumn + `,
			title TEXT NOT NULL,
			url TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			source_id BIGINT NOT NULL DEFAULT 0,
			source_name TEXT NOT NULL DEFAULT '',
			published_at BIGINT NOT NULL,
			ingested_at BIGINT NOT NULL,
			category_name TEXT NOT NULL DEFAULT '',
			category_color TEXT NOT NULL DEFAULT '',
			relevancy_score INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_ingested_at ON items (ingested_at)`,
	}
}

// Open connects to the configured database and creates the schema when missing.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	d, err := dialectFor(strings.ToLower(strings.TrimSpace(driver)))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.driver, err)
	}

	if d.driver == DriverSQLite {
		// a single connection keeps per-connection pragmas in force
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.driver, err)
	}

	repo := newRepository(db, d)
	if err := repo.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) initSchema(ctx context.Context) error {
	for _, stmt := range r.dialect.statements() {
		if err := r.execNoResult(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
