// Package migrations embeds the SQLite schema migrations applied by goose.
package migrations

import "embed"

// FS holds the numbered goose SQL files.
//
//go:embed *.sql
var FS embed.FS
