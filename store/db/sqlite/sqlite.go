// Package sqlite implements store.Driver on top of modernc.org/sqlite:
// a DB struct wrapping *sql.DB, WAL + busy_timeout pragmas, and a
// ping-based health check.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Pure-Go sqlite driver; registers as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/hrygo/dialogmesh/internal/profile"
	"github.com/hrygo/dialogmesh/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) the sqlite database at profile.DSN and runs
// the schema migration.
func NewDB(ctx context.Context, p *profile.Profile) (store.Driver, error) {
	if p.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqlDB, err := sql.Open("sqlite", p.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", p.DSN)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			return nil, errors.Wrapf(err, "failed to set pragma: %s", pragma)
		}
	}

	// Single-connection pool: sqlite under WAL serializes writers anyway,
	// and a single *sql.DB connection avoids "database is locked" churn
	// for this process.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB}
	if err := d.migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) HealthCheck(ctx context.Context) (store.Health, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return store.Health{Status: "degraded", Detail: err.Error()}, errors.Wrap(err, "ping failed")
	}
	return store.Health{Status: "healthy", Detail: "sqlite"}, nil
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL,
			nonce TEXT,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_user_id ON session(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_nonce ON session(nonce) WHERE nonce IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS turn (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES session(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turn_session_created ON turn(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS expression (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			priority_score REAL NOT NULL,
			relationship_stage TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expression_user ON expression(user_id)`,
		`CREATE TABLE IF NOT EXISTS frequency_state (
			user_id TEXT PRIMARY KEY,
			last_expression_at INTEGER NOT NULL DEFAULT 0,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "executing migration statement: %s", stmt)
		}
	}
	return nil
}
