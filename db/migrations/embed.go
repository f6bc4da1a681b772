// Package dbmigrations exposes embedded SQL migrations for quantloop binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into quantloop binaries.
//
//go:embed *.sql
var Files embed.FS
