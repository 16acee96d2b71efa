// Package dbtest provides a migrated SQLite database for repository and service tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"surveyapp/backend/internal/db"
	"surveyapp/backend/internal/db/migrate"

	"github.com/jmoiron/sqlx"
)

// Open migrates a fresh SQLite file under t.TempDir and returns a handle closed on cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	if err := migrate.Run(db.DriverSQLite, path, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(db.DriverSQLite, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
