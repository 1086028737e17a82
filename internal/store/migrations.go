package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

// The journal schema ships as one embedded script; schemaVersion stamps it
// so a future reshape can key off the recorded version.
const schemaVersion = 1

//go:embed migrations/001_initial_schema.sql
var schemaSQL string

// applySchema brings the database up to the current journal schema. An
// already-stamped database is left alone; otherwise the whole script runs
// in a single transaction.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema setup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements(schemaSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply journal schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema_version: %w", err)
	}
	return tx.Commit()
}

// schemaStatements splits the schema script on semicolons, dropping empty
// and comment-only chunks.
func schemaStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		chunk := strings.TrimSpace(raw)
		if chunk == "" {
			continue
		}
		code := false
		for _, line := range strings.Split(chunk, "\n") {
			if l := strings.TrimSpace(line); l != "" && !strings.HasPrefix(l, "--") {
				code = true
				break
			}
		}
		if code {
			stmts = append(stmts, chunk)
		}
	}
	return stmts
}
