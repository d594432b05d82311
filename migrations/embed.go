// Package migrations embeds the Postgres schema for the ledger store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
