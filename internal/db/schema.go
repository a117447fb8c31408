package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_id   UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		event_data     JSONB NOT NULL,
		metadata       JSONB,
		version        INT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events (aggregate_type, event_type)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_id   UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		version        INT NOT NULL,
		state          JSONB NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		aggregate_id   TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		event_data     TEXT NOT NULL,
		metadata       TEXT,
		version        INTEGER NOT NULL,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events (aggregate_type, event_type)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_id   TEXT PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		version        INTEGER NOT NULL,
		state          TEXT NOT NULL,
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Migrate creates the journal tables for db's dialect. Every statement is
// idempotent, so it runs on every start.
func Migrate(db *sqlx.DB) error {
	schema := postgresSchema
	if db.DriverName() == DriverSQLite {
		schema = sqliteSchema
	}
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
