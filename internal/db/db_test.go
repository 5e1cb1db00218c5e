package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akitorahayashi/jlo/internal/db"
)

func TestPathDefaultsUnderJlo(t *testing.T) {
	require.Equal(t, filepath.Join(".jlo", ".state", "jlo.db"), db.Path(""))
	require.Equal(t, filepath.Join("/tmp/state", "jlo.db"), db.Path("/tmp/state"))
}

func TestOpenAppliesLedgerPragmas(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	conn, err := db.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.FileExists(t, db.Path(dir))

	var mode string
	require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var fk, timeout int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.Equal(t, 1, fk)
	require.NoError(t, conn.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	require.Equal(t, 5000, timeout)
	require.Equal(t, 1, conn.Stats().MaxOpenConnections)
}

func TestDSNListsPragmas(t *testing.T) {
	dsn := db.DSN("/x/jlo.db")
	require.Contains(t, dsn, "file:/x/jlo.db?")
	require.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	require.Contains(t, dsn, "_txlock=immediate")
}
