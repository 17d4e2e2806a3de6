// Package migrations embeds the SQL migration files applied by store.Open.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
