// Package migrations embeds the tracked, additive SQL migration set used
// by the "tracer migrate" command. The schema itself is owned by
// store.Open's embedded schema.sql (every statement CREATE ... IF NOT
// EXISTS); this package exists so golang-migrate has something concrete
// to version, report on, and extend when a future change needs an
// explicit up/down pair rather than an idempotent CREATE.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
