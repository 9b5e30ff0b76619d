// Package migrations embeds the SQL schema so binaries and tests can bootstrap
// the database without shipping the .sql files alongside them.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
