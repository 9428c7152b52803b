// Package migrations embeds the SQL schema files so the worker can create
// its table without the files being present on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory. Files are named
// YYYYMMDD_HHMMSS_description.up.sql and applied in name order.
//
//go:embed *.sql
var FS embed.FS
