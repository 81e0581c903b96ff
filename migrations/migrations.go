// Package migrations embeds the service's SQL schema.
package migrations

import "embed"

// FS holds the *.up.sql files applied by database.RunMigrations.
//
//go:embed *.up.sql
var FS embed.FS
