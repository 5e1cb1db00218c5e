// Package db opens the SQLite file backing the run ledger.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// FileName is the ledger database inside the state directory.
const FileName = "jlo.db"

// DefaultStateDir is the ledger directory relative to the repository root.
var DefaultStateDir = filepath.Join(".jlo", ".state")

// pragmas run on every new connection. WAL lets `jlo serve` read while a
// layer run writes; writers queue on busy_timeout instead of failing.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
}

// Path returns the database file for stateDir.
func Path(stateDir string) string {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	return filepath.Join(stateDir, FileName)
}

// DSN builds the driver connection string for a database file. Write
// transactions take the lock up front so concurrent writers wait on
// busy_timeout rather than failing on upgrade.
func DSN(path string) string {
	params := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")
	return "file:" + path + "?" + strings.Join(params, "&")
}

// Open creates stateDir if needed and returns a verified connection pool.
// The ledger has a single writer, so the pool holds one connection.
func Open(ctx context.Context, stateDir string) (*sql.DB, error) {
	path := Path(stateDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	conn, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return conn, nil
}
