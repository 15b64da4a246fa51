// Package migrations embeds the goose-annotated PostgreSQL schema applied by db.Migrate.
package migrations

import "embed"

// Files holds the ordered *.sql migrations.
//
//go:embed *.sql
var Files embed.FS
