// Package migrations embeds the chatterm.db schema history.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
