// Package migrations carries the ledger schema as goose SQL migrations.
package migrations

import "embed"

// FS holds every migration file; goose reads it from its root.
//
//go:embed *.sql
var FS embed.FS
