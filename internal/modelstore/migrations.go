package modelstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// migrations lists the DuckDB schema in application order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create models table",
		Up: execAll(`
		CREATE TABLE IF NOT EXISTS models (
			id VARCHAR PRIMARY KEY,
			creation_date TIMESTAMP NOT NULL,
			performance DOUBLE NOT NULL CHECK (performance >= 0 AND performance <= 1),
			description VARCHAR NOT NULL,
			artifact BLOB,
			meta VARCHAR NOT NULL DEFAULT '{}'
		)`),
	},
	{
		Version:     2,
		Description: "create tag and column tables",
		Up: execAll(`
		CREATE TABLE IF NOT EXISTS model_tags (
			model_id VARCHAR NOT NULL,
			position INTEGER NOT NULL,
			tag VARCHAR NOT NULL,
			PRIMARY KEY (model_id, position)
		)`, `
		CREATE TABLE IF NOT EXISTS model_columns (
			model_id VARCHAR NOT NULL,
			position INTEGER NOT NULL,
			name VARCHAR NOT NULL,
			PRIMARY KEY (model_id, position)
		)`),
	},
	{
		Version:     3,
		Description: "add lookup indexes",
		Up: execAll(
			"CREATE INDEX IF NOT EXISTS idx_models_creation ON models (creation_date, id)",
			"CREATE INDEX IF NOT EXISTS idx_model_tags_tag ON model_tags (tag)",
			"CREATE INDEX IF NOT EXISTS idx_model_columns_name ON model_columns (name)",
		),
	},
}

func execAll(statements ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// migrate applies every migration newer than the recorded schema version.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	createMigrationsTable := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			execution_time BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", m.Version, err)
		}
		logger.Info("applied migration", "version", m.Version, "description", m.Description)
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m Migration) error {
	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	insertQuery := `
		INSERT INTO schema_migrations (version, description, applied_at, execution_time)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insertQuery, m.Version, m.Description, time.Now().UTC(), time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
