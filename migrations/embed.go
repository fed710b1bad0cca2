// Package migrations embeds the server schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
