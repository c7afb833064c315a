// Package migrations embeds the goose SQL migrations for the local
// durable cache schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
