// Package store is pitwall's Postgres access layer. It owns every SQL
// statement against the relational schema; callers get typed models and
// errs kinds, never driver errors.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/waystellar/argusv4-sub001/pkg/database"
	dbsql "github.com/waystellar/argusv4-sub001/pkg/database/sql"
	"github.com/waystellar/argusv4-sub001/pkg/logging"
)

// Store wraps the shared connection pool.
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// New builds a store over an open connection.
func New(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ApplySchema runs the embedded schema files in name order. Statements
// are idempotent, so re-running at every boot is safe.
func (s *Store) ApplySchema(ctx context.Context) error {
	names, err := fs.Glob(dbsql.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := dbsql.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		s.logger.WithField("file", name).Info("Applied schema file")
	}
	return nil
}

// ApplyDemoSeed loads the demo fixtures, for local development only.
func (s *Store) ApplyDemoSeed(ctx context.Context) error {
	names, err := fs.Glob(dbsql.Content, "seeds/demo/*.sql")
	if err != nil {
		return fmt.Errorf("list seed files: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := dbsql.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// textArray renders a []string as a Postgres array literal. Field names
// are canonical channel identifiers, never user-controlled free text.
func textArray(values []string) string {
	if len(values) == 0 {
		return "{}"
	}
	return "{" + strings.Join(values, ",") + "}"
}

// parseTextArray inverts textArray.
func parseTextArray(raw string) []string {
	trimmed := strings.Trim(raw, "{}")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out
}
