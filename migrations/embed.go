// Package migrations embeds the agent's SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds the migration files at its root, named
// YYYYMMDD_HHMMSS_description.{up,down}.sql.
//
//go:embed *.sql
var FS embed.FS
