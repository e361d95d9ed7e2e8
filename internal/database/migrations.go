package database

import (
	"context"
	"fmt"
	"strings"
)

// migration is a single idempotent schema change.
type migration struct {
	name  string
	sql   string
	check string // returns true when the change is already present
}

var migrations = []migration{
	{
		name: "create orchestration_log",
		sql: `CREATE TABLE IF NOT EXISTS orchestration_log (
			id          bigserial PRIMARY KEY,
			request_id  text NOT NULL,
			capability  text NOT NULL,
			provider    text,
			retried     boolean NOT NULL DEFAULT false,
			error       text,
			attempts    jsonb NOT NULL DEFAULT '[]',
			started_at  timestamptz NOT NULL,
			duration_ms integer NOT NULL
		)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'orchestration_log')`,
	},
	{
		name:  "add orchestration_log time index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_orchestration_log_started ON orchestration_log (started_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_orchestration_log_started')`,
	},
	{
		name:  "add orchestration_log request index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_orchestration_log_request ON orchestration_log (request_id)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_orchestration_log_request')`,
	},
}

// Migrate applies every migration whose check reports it missing. A failed
// apply is fatal: the audit log cannot write without its table.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		db.log.Debug().Msg("schema up to date")
		return nil
	}

	for i, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[i:], err: err}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
	}
	db.log.Info().Int("applied", len(pending)).Msg("schema migrations complete")
	return nil
}

// MigrationError carries the SQL an operator needs to finish the migration by hand.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database owner:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart ai-relay.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
