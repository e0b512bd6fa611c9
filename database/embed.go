package database

import "embed"

// EmbeddedMigrations holds the SQL files under migrations/ so the
// deployed binary needs no files next to it.
// Access with fs.Sub(EmbeddedMigrations, "migrations").
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS
