// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/larderhq/larder/internal/persistence/sqlite"
)

const indexSchemaVersion = 1

// ResourceIndex remembers which identities already produced a resource, so
// repeat requests short-circuit to the existing result instead of admitting
// a new job.
type ResourceIndex interface {
	Find(ctx context.Context, key string) (resourceID string, ok bool, err error)
	Record(ctx context.Context, key, resourceID string) error
}

// SQLiteIndex implements ResourceIndex on a local SQLite database. Each
// process keeps its own copy; the index is an optimization, the store is
// the source of truth for in-flight exclusion.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenIndex opens (and if needed migrates) the index database at path. An
// existing database is integrity-checked first: a corrupt index would keep
// answering already_exists with garbage resource ids, which is worse than
// failing the boot.
func OpenIndex(path string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); err == nil {
		diags, err := sqlite.Check(path, false)
		if err != nil {
			return nil, fmt.Errorf("admission index: integrity check failed: %w", err)
		}
		if len(diags) > 0 {
			return nil, fmt.Errorf("admission index: database corrupt: %s", strings.Join(diags, "; "))
		}
	}

	db, err := sqlite.Open(path, sqlite.Options{})
	if err != nil {
		return nil, err
	}

	idx := &SQLiteIndex{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("admission index: migration failed: %w", err)
	}
	return idx, nil
}

func (idx *SQLiteIndex) migrate() error {
	var currentVersion int
	if err := idx.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= indexSchemaVersion {
		return nil
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS completed_imports (
		identity_key TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		completed_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_completed_imports_at ON completed_imports(completed_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", indexSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Find returns the resource a completed job produced for key.
func (idx *SQLiteIndex) Find(ctx context.Context, key string) (string, bool, error) {
	var resourceID string
	err := idx.db.QueryRowContext(ctx,
		"SELECT resource_id FROM completed_imports WHERE identity_key = ?", key,
	).Scan(&resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("admission index find: %w", err)
	}
	return resourceID, true, nil
}

// Record stores the terminal result for key. Re-recording a key overwrites
// the previous resource id; completion is idempotent.
func (idx *SQLiteIndex) Record(ctx context.Context, key, resourceID string) error {
	query := `
	INSERT INTO completed_imports (identity_key, resource_id, completed_at_ms)
	VALUES (?, ?, ?)
	ON CONFLICT(identity_key) DO UPDATE SET
		resource_id = excluded.resource_id,
		completed_at_ms = excluded.completed_at_ms
	`
	if _, err := idx.db.ExecContext(ctx, query, key, resourceID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("admission index record: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (idx *SQLiteIndex) Close() error {
	return idx.db.Close()
}
