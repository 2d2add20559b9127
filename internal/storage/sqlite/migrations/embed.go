// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

//go:embed sessions/*.sql
var SessionsFS embed.FS
