package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// The same files run on SQLite and Postgres; timestamps are unix milliseconds.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
