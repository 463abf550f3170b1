// SPDX-License-Identifier: MIT

package sqlite

import (
	"crypto/rand"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, name string) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return path, db
}

func fillTable(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := db.Exec("INSERT INTO t (data) VALUES (?)", "0123456789012345678901234567890123456789"); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	_, db := openTestDB(t, "pragmas.sqlite")
	defer func() { _ = db.Close() }()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestCheckHealthyDatabase(t *testing.T) {
	path, db := openTestDB(t, "healthy.sqlite")
	fillTable(t, db, 200)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	issues, err := Check(path, false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if issues != nil {
		t.Fatalf("healthy database reported issues: %v", issues)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	path, db := openTestDB(t, "corruptible.sqlite")
	fillTable(t, db, 500)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Scribble over the second page.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	garbage := make([]byte, 256)
	if _, err := rand.Read(garbage); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := f.WriteAt(garbage, 4096); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close corrupted file: %v", err)
	}

	issues, err := Check(path, true)
	if err != nil {
		// Severe corruption can fail the pragma outright; that also counts
		// as detection.
		return
	}
	if issues == nil {
		t.Fatal("corrupted database reported healthy")
	}
}
