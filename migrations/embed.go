// Package migrations embeds the SQL schema for each supported database driver.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// SQLite returns the sqlite migration files
func SQLite() fs.FS {
	sub, _ := fs.Sub(files, "sqlite")
	return sub
}

// Postgres returns the postgres migration files
func Postgres() fs.FS {
	sub, _ := fs.Sub(files, "postgres")
	return sub
}
