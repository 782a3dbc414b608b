// Package migrations embeds the SQL migration files applied via goose on
// startup (spec §3's ten tables plus their required indexes, §6).
//
// Migration files follow the naming convention: NNNNN_description.sql and
// are applied in lexical order.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
