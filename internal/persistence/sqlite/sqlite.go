// SPDX-License-Identifier: MIT

// Package sqlite opens the daemon's SQLite files with the pragmas the
// admission index needs applied to every pooled connection.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// Options tunes the pool. Zero values take defaults sized for the
// completion index: a small database read on every admission attempt and
// written once per finished job.
type Options struct {
	// BusyWait is how long a connection blocks on a locked database
	// before reporting SQLITE_BUSY.
	BusyWait time.Duration
	// PoolSize caps open connections.
	PoolSize int
}

func (o Options) withDefaults() Options {
	if o.BusyWait <= 0 {
		o.BusyWait = 5 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	return o
}

// Open creates a connection pool on the file at path, creating it when
// absent. The pragmas travel in the DSN: the pool opens connections
// lazily, and a pragma issued on one connection never reaches the others.
func Open(path string, opts Options) (*sql.DB, error) {
	o := opts.withDefaults()

	pragmas := []string{
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", o.BusyWait.Milliseconds()),
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
	}
	dsn := "file:" + path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(o.PoolSize)
	db.SetMaxIdleConns(o.PoolSize)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return db, nil
}

// Check runs SQLite's self-check against the file and returns the reported
// problems, nil when the database is sound. full selects the exhaustive
// integrity_check over the default quick_check.
func Check(path string, full bool) ([]string, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(2000)")
	if err != nil {
		return nil, fmt.Errorf("open %s read-only: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	stmt := "PRAGMA quick_check"
	if full {
		stmt = "PRAGMA integrity_check"
	}

	rows, err := db.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stmt, err)
	}
	defer func() { _ = rows.Close() }()

	var issues []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", stmt, err)
		}
		issues = append(issues, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(issues) == 1 && strings.EqualFold(issues[0], "ok"):
		return nil, nil
	case len(issues) == 0:
		return []string{"self-check produced no output"}, nil
	}
	return issues, nil
}
