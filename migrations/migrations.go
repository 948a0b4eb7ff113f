// Package migrations embeds the SQL schema of the submission ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
